// Package configwatch hot-reloads strategy documents from etcd, handing
// each successfully decoded generation to callers through an atomic
// pointer swap so in-flight selections never observe a half-built
// Strategy.
package configwatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/v1siuol/trafficserver/pkg/nexthop"
	"github.com/v1siuol/trafficserver/pkg/nexthop/config"
	"github.com/v1siuol/trafficserver/pkg/telemetry/log"
	"github.com/v1siuol/trafficserver/pkg/telemetry/metrics"
)

// Watcher holds the current generation of a strategy built from a single
// etcd key, reloading it whenever the key changes.
type Watcher struct {
	cli    *clientv3.Client
	loader *config.Loader
	key    string

	current atomic.Pointer[nexthop.Strategy]

	mu        sync.Mutex
	listeners []func(*nexthop.Strategy, *nexthop.LoadReport)
}

// ClientConfig mirrors the subset of etcd dial options the daemon needs.
type ClientConfig struct {
	Endpoints   []string
	DialTimeout int64 // seconds
	Username    string
	Password    string
}

// NewClient dials etcd with the subset of clientv3.Config fields the
// daemon needs.
func NewClient(cfg ClientConfig) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
}

// NewWatcher constructs a Watcher for a single strategy document key.
func NewWatcher(cli *clientv3.Client, loader *config.Loader, key string) *Watcher {
	return &Watcher{cli: cli, loader: loader, key: key}
}

// Current returns the most recently loaded Strategy, or nil before the
// first successful load.
func (w *Watcher) Current() *nexthop.Strategy {
	return w.current.Load()
}

// OnReload registers a callback invoked after every load attempt that
// produces a LoadReport, successful or rejected, with that report. A
// document that fails YAML parsing is logged and does not invoke it.
func (w *Watcher) OnReload(fn func(*nexthop.Strategy, *nexthop.LoadReport)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Bootstrap performs the initial load, blocking until the key is read.
func (w *Watcher) Bootstrap(ctx context.Context) error {
	resp, err := w.cli.Get(ctx, w.key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return nil
	}
	w.reload(resp.Kvs[0].Value)
	return nil
}

// Run watches the key until ctx is cancelled, reloading on every change.
func (w *Watcher) Run(ctx context.Context) {
	wc := w.cli.Watch(ctx, w.key)
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-wc:
			if !ok {
				return
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypeDelete {
					continue
				}
				w.reload(ev.Kv.Value)
			}
		}
	}
}

func (w *Watcher) reload(data []byte) {
	strategy, report, err := w.loader.LoadStrategy(data)
	if err != nil {
		log.Errorf("configwatch: failed to parse strategy document for key %s: %v", w.key, err)
		return
	}
	if report.Rejected != nil {
		log.Errorf("configwatch: strategy %s rejected: %s", report.StrategyName, report.Rejected.Error())
		metrics.IncReloadTotal(report.StrategyName, true)
	} else {
		log.Infof("configwatch: loaded strategy %s generation %s", strategy.Name, strategy.Generation)
		metrics.IncReloadTotal(strategy.Name, false)
		w.current.Store(strategy)
	}
	for _, warn := range report.Warnings {
		log.Warnf("configwatch: strategy %s warning: %s", report.StrategyName, warn.Error())
	}

	w.mu.Lock()
	listeners := append([]func(*nexthop.Strategy, *nexthop.LoadReport){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(strategy, report)
	}
}
