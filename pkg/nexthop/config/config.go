// Package config decodes the declarative next-hop strategy document
// into a *nexthop.Strategy, collecting non-fatal warnings along the way
// instead of aborting the whole reload on the first mistake. It is an
// external collaborator from the core's point of view: pkg/nexthop
// never imports this package.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/v1siuol/trafficserver/pkg/nexthop"
)

// Loader builds Strategy values against an injected HealthView, the way
// the real collaborator the core is handed would.
type Loader struct {
	Health          nexthop.HealthView
	VNodesPerWeight int
	// Affinity, when non-nil, is attached to every strategy this Loader
	// builds.
	Affinity *nexthop.AffinityHook
}

type rawFailover struct {
	RingMode         string   `yaml:"ring_mode"`
	MaxSimpleRetries int      `yaml:"max_simple_retries"`
	ResponseCodes    []int    `yaml:"response_codes"`
	HealthCheck      []string `yaml:"health_check"`
}

type rawStrategy struct {
	Name             string      `yaml:"name"`
	Scheme           string      `yaml:"scheme"`
	GoDirect         bool        `yaml:"go_direct"`
	ParentIsProxy    bool        `yaml:"parent_is_proxy"`
	IgnoreSelfDetect bool        `yaml:"ignore_self_detect"`
	Failover         rawFailover `yaml:"failover"`
	Groups           yaml.Node   `yaml:"groups"`
}

type rawHost struct {
	Host       string    `yaml:"host"`
	Protocol   yaml.Node `yaml:"protocol"`
	Weight     *float64  `yaml:"weight"`
	HashString string    `yaml:"hash_string"`
}

type rawProtocol struct {
	Scheme         string `yaml:"scheme"`
	Port           int    `yaml:"port"`
	HealthCheckURL string `yaml:"health_check_url"`
}

// protocolDecoders dispatches protocol decoding by the discriminating
// "scheme" key: a tagged-variant decode, one function per variant,
// instead of the original's inheritance-adjacent YAML decode hooks.
var protocolDecoders = map[string]func(rawProtocol) nexthop.Protocol{
	"http":  func(r rawProtocol) nexthop.Protocol { return nexthop.Protocol{Scheme: nexthop.SchemeHTTP, Port: r.Port, HealthCheckURL: r.HealthCheckURL} },
	"https": func(r rawProtocol) nexthop.Protocol { return nexthop.Protocol{Scheme: nexthop.SchemeHTTPS, Port: r.Port, HealthCheckURL: r.HealthCheckURL} },
	"none":  func(r rawProtocol) nexthop.Protocol { return nexthop.Protocol{Scheme: nexthop.SchemeNone, Port: r.Port} },
}

func decodeProtocol(n *yaml.Node) (nexthop.Protocol, bool) {
	var raw rawProtocol
	if err := n.Decode(&raw); err != nil {
		return nexthop.Protocol{}, false
	}
	fn, ok := protocolDecoders[raw.Scheme]
	if !ok {
		fn = protocolDecoders["none"]
	}
	return fn(raw), true
}

func parseScheme(s string) (nexthop.Scheme, bool) {
	switch s {
	case "http":
		return nexthop.SchemeHTTP, true
	case "https":
		return nexthop.SchemeHTTPS, true
	case "", "none":
		return nexthop.SchemeNone, true
	default:
		return nexthop.SchemeNone, false
	}
}

func parseRingMode(s string) (nexthop.RingMode, bool) {
	switch s {
	case "alternate_ring", "":
		return nexthop.AlternateRing, true
	case "exhaust_ring":
		return nexthop.ExhaustRing, true
	default:
		// The original falls back to alternate_ring with a warning
		// rather than rejecting the strategy.
		return nexthop.AlternateRing, false
	}
}

func decodeHost(n *yaml.Node) (*nexthop.HostRecord, error) {
	var raw rawHost
	if err := n.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid host definition: %w", err)
	}
	if raw.Host == "" {
		return nil, fmt.Errorf("invalid host definition, missing host name")
	}
	if raw.Protocol.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("invalid host protocol definition for %q, expected a sequence", raw.Host)
	}

	var protocols []nexthop.Protocol
	for _, pn := range raw.Protocol.Content {
		proto, ok := decodeProtocol(pn)
		if !ok {
			return nil, fmt.Errorf("invalid protocol entry for host %q", raw.Host)
		}
		protocols = append(protocols, proto)
	}
	if len(protocols) == 0 {
		return nil, fmt.Errorf("host %q has no protocol entries", raw.Host)
	}

	weight := 1.0
	if raw.Weight != nil {
		weight = *raw.Weight
	}

	return &nexthop.HostRecord{
		Hostname:   raw.Host,
		Protocols:  protocols,
		Weight:     weight,
		HashString: raw.HashString,
	}, nil
}

func lookupKey(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// LoadStrategy decodes one strategy document. Unknown fields are ignored
// (yaml.v3's default behavior for struct decode without KnownFields).
// Invalid response codes and over-the-cap groups are dropped with a
// warning on the returned LoadReport; a malformed groups sequence
// rejects the whole strategy.
func (l *Loader) LoadStrategy(data []byte) (*nexthop.Strategy, *nexthop.LoadReport, error) {
	expanded := os.ExpandEnv(string(data))

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, nil, err
	}
	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil, fmt.Errorf("empty configuration document")
		}
		root = root.Content[0]
	}
	node := root
	if v := lookupKey(root, "strategy"); v != nil {
		node = v
	}

	report := &nexthop.LoadReport{}

	var raw rawStrategy
	if err := node.Decode(&raw); err != nil {
		report.Rejected = nexthop.ErrConfigRejected.WithData(map[string]string{"reason": err.Error()})
		return nil, report, nil
	}
	report.StrategyName = raw.Name

	reject := func(reason string) (*nexthop.Strategy, *nexthop.LoadReport, error) {
		report.Rejected = nexthop.ErrConfigRejected.WithData(map[string]string{
			"strategy_name": raw.Name,
			"reason":        reason,
		})
		return nil, report, nil
	}

	scheme, ok := parseScheme(raw.Scheme)
	if !ok {
		report.Warn(nexthop.ErrInvalidScheme.WithData(map[string]string{"value": raw.Scheme}))
		scheme = nexthop.SchemeNone
	}

	ringMode, ok := parseRingMode(raw.Failover.RingMode)
	if !ok {
		report.Warn(nexthop.ErrInvalidRingMode.WithData(map[string]string{"value": raw.Failover.RingMode}))
	}

	maxSimpleRetries := raw.Failover.MaxSimpleRetries
	if maxSimpleRetries < 0 {
		report.Warn(nexthop.ErrConfigRejected.WithData(map[string]string{
			"detail": fmt.Sprintf("negative max_simple_retries %d, clamping to 0", maxSimpleRetries),
		}))
		maxSimpleRetries = 0
	}

	respCodes := nexthop.NewResponseCodeSet()
	for _, c := range raw.Failover.ResponseCodes {
		if !respCodes.Add(c) {
			report.Warn(nexthop.ErrInvalidResponseCode.WithData(map[string]string{"code": fmt.Sprintf("%d", c)}))
		}
	}

	var healthChecks nexthop.HealthCheckConfig
	for _, hc := range raw.Failover.HealthCheck {
		switch hc {
		case "active":
			healthChecks.Active = true
		case "passive":
			healthChecks.Passive = true
		default:
			report.Warn(nexthop.ErrInvalidHealthCheck.WithData(map[string]string{"value": hc}))
		}
	}

	if raw.Groups.Kind != yaml.SequenceNode {
		return reject("invalid groups definition, expected a sequence")
	}

	groupNodes := raw.Groups.Content
	if len(groupNodes) > nexthop.MaxGroupRings {
		report.Warn(nexthop.ErrGroupCapExceeded.WithData(map[string]string{
			"limit": fmt.Sprintf("%d", nexthop.MaxGroupRings),
			"got":   fmt.Sprintf("%d", len(groupNodes)),
		}))
		groupNodes = groupNodes[:nexthop.MaxGroupRings]
	}

	var groups [][]*nexthop.HostRecord
	for _, gn := range groupNodes {
		if gn.Kind != yaml.SequenceNode {
			return reject("invalid hosts definition, expected a sequence")
		}
		var hosts []*nexthop.HostRecord
		for _, hn := range gn.Content {
			host, err := decodeHost(hn)
			if err != nil {
				return reject(err.Error())
			}
			hosts = append(hosts, host)
		}
		if len(hosts) == 0 {
			return reject("empty host group")
		}
		groups = append(groups, hosts)
	}
	if len(groups) == 0 {
		return reject("no groups configured")
	}

	for _, hosts := range groups {
		for _, h := range hosts {
			if !raw.IgnoreSelfDetect && nexthop.IsSelf(h.Hostname) {
				l.Health.MarkDown(h.Hostname, nexthop.ReasonSelfDetect)
			}
		}
	}

	cfg := nexthop.StrategyConfig{
		Name:             raw.Name,
		Scheme:           scheme,
		GoDirect:         raw.GoDirect,
		ParentIsProxy:    raw.ParentIsProxy,
		IgnoreSelfDetect: raw.IgnoreSelfDetect,
		RingMode:         ringMode,
		MaxSimpleRetries: uint32(maxSimpleRetries),
		RespCodes:        respCodes,
		HealthChecks:     healthChecks,
		Groups:           groups,
		VNodesPerWeight:  l.VNodesPerWeight,
		Affinity:         l.Affinity,
	}

	var strategy *nexthop.Strategy
	var buildErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buildErr = fmt.Errorf("%v", r)
			}
		}()
		strategy = nexthop.NewStrategy(cfg, l.Health)
	}()
	if buildErr != nil {
		return reject(buildErr.Error())
	}

	return strategy, report, nil
}
