package nexthop

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/zeebo/xxh3"
)

// RequestContext is the narrow view the core needs of an HTTP
// transaction. The proxy builds FingerprintKey from whichever URL/host/
// header policy it prefers; the core only hashes whatever bytes it is
// given.
type RequestContext interface {
	FingerprintKey() []byte
	TransactionID() uint64
}

// fingerprintOf derives the 64-bit fingerprint for a request, computing
// it once and caching it on the scratchpad.
func fingerprintOf(ctx RequestContext, scratch *Scratchpad, hook *AffinityHook) uint64 {
	if scratch.fingerprintSet {
		return scratch.fingerprint
	}
	key := ctx.FingerprintKey()
	if hook != nil {
		if override, ok := hook.Override(key); ok {
			key = override
		}
	}
	scratch.fingerprint = xxh3.Hash(key)
	scratch.fingerprintSet = true
	return scratch.fingerprint
}

// AffinityHook is an optional operator-authored escape hatch: a Lua
// script that may rewrite the bytes used to compute a request's
// fingerprint before consistent-hash selection runs, in the spirit of
// the Apache Traffic Server tslua plugin family.
//
// The script must define a global function `affinity(key) -> string|nil`;
// a nil return leaves the fingerprint key unchanged.
type AffinityHook struct {
	mu     sync.Mutex
	script string
}

// NewAffinityHook compiles nothing up front: gopher-lua states are
// single-use and cheap to spin up, so each Override call gets its own
// *lua.LState.
func NewAffinityHook(script string) *AffinityHook {
	return &AffinityHook{script: script}
}

// Override runs the hook's script against key and returns the replacement
// key. ok is false when the script errors, doesn't define `affinity`, or
// returns nil — in every such case the caller must use the original key.
func (h *AffinityHook) Override(key []byte) (override []byte, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	L := lua.NewState()
	defer L.Close()

	if err := L.DoFile(h.script); err != nil {
		return nil, false
	}
	fn := L.GetGlobal("affinity")
	if fn.Type() != lua.LTFunction {
		return nil, false
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(key)); err != nil {
		return nil, false
	}
	ret := L.Get(-1)
	L.Pop(1)
	if ret.Type() != lua.LTString {
		return nil, false
	}
	return []byte(lua.LVAsString(ret)), true
}
