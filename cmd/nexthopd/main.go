// Command nexthopd loads a next-hop strategy document, optionally
// watches it for hot-reload via etcd, and drives a simulated proxy
// retry loop against it — useful for smoke-testing a strategy document
// outside of a real proxy.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/v1siuol/trafficserver/pkg/configwatch"
	"github.com/v1siuol/trafficserver/pkg/health"
	"github.com/v1siuol/trafficserver/pkg/nexthop"
	"github.com/v1siuol/trafficserver/pkg/nexthop/config"
	"github.com/v1siuol/trafficserver/pkg/telemetry/log"
	"github.com/v1siuol/trafficserver/pkg/telemetry/metrics"
)

var (
	strategyPath   = flag.String("strategyPath", "strategy.yaml", "strategy document path")
	name           = flag.String("name", "unnamed-nexthop", "daemon instance name, used for log file naming")
	metricsPort    = flag.Int("metricsPort", 9109, "prometheus metrics port")
	etcdEndpoints  = flag.String("etcdEndpoints", "", "comma-separated etcd endpoints; when set, watches strategyKey instead of reading strategyPath once")
	strategyKey    = flag.String("strategyKey", "/nexthop/strategy", "etcd key holding the strategy document")
	redisAddr      = flag.String("redisAddr", "", "redis address for a fleet-shared health store; when unset, uses an in-process store")
	simulate       = flag.Int("simulate", 0, "number of simulated transactions to run against the loaded strategy, then exit")
)

type simRequest struct {
	id  uuid.UUID
	key []byte
}

func (r simRequest) FingerprintKey() []byte { return r.key }
func (r simRequest) TransactionID() uint64  { return binary.BigEndian.Uint64(r.id[:8]) }

func main() {
	flag.Parse()

	log.ReplaceDefault(log.NewWithLogFile(log.InfoLevel, fmt.Sprintf(".logs/%s.log", *name)))
	defer func() {
		if err := log.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "sync logger error: %v\n", err)
		}
	}()

	go metrics.Init(*metricsPort)

	var healthView nexthop.HealthView
	if *redisAddr != "" {
		healthView = newRedisHealth(*redisAddr)
	} else {
		healthView = health.NewMemoryStore()
	}

	loader := &config.Loader{Health: healthView, VNodesPerWeight: nexthop.DefaultVirtualNodesPerWeight}

	var strategy *nexthop.Strategy
	if *etcdEndpoints != "" {
		strategy = runWatched(loader)
	} else {
		strategy = loadOnce(loader)
	}

	if strategy == nil {
		log.Fatal("no strategy loaded, exiting")
		return
	}

	if *simulate > 0 {
		runSimulation(strategy, *simulate)
	}
}

func loadOnce(loader *config.Loader) *nexthop.Strategy {
	data, err := os.ReadFile(*strategyPath)
	if err != nil {
		log.Fatalf("read strategy document: %v", err)
	}
	strategy, report, err := loader.LoadStrategy(data)
	if err != nil {
		log.Fatalf("parse strategy document: %v", err)
	}
	for _, w := range report.Warnings {
		log.Warnf("strategy %s: %s", report.StrategyName, w.Error())
	}
	if !report.OK() {
		log.Fatalf("strategy %s rejected: %s", report.StrategyName, report.Rejected.Error())
	}
	log.Infof("loaded strategy %s, generation %s, %d parents", strategy.Name, strategy.Generation, strategy.NumParents)
	return strategy
}

func runWatched(loader *config.Loader) *nexthop.Strategy {
	endpoints := strings.Split(*etcdEndpoints, ",")
	cli, err := configwatch.NewClient(configwatch.ClientConfig{Endpoints: endpoints})
	if err != nil {
		log.Fatalf("dial etcd: %v", err)
	}
	watcher := configwatch.NewWatcher(cli, loader, *strategyKey)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := watcher.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap strategy from etcd: %v", err)
	}
	go watcher.Run(context.Background())
	return watcher.Current()
}

func newRedisHealth(addr string) nexthop.HealthView {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	return health.NewRedisStore(cli, "nexthopd:", 200*time.Millisecond)
}

func runSimulation(strategy *nexthop.Strategy, n int) {
	var failures, successes int
	for i := 0; i < n; i++ {
		req := simRequest{id: uuid.New(), key: []byte(fmt.Sprintf("txn-%d", i))}
		scratch := strategy.NewScratchpad()

		for {
			start := time.Now()
			result, err := strategy.FindNextHop(req, scratch)
			metrics.ObserveSelectionDuration(strategy.Name, time.Since(start).Seconds())
			if err != nil {
				metrics.IncNoParentAvailable(strategy.Name)
				failures++
				break
			}

			outcome := simulateAttempt(result)
			strategy.Mark(result.Hostname, outcome)

			decision := strategy.ShouldRetry(scratch, outcome)
			if decision != nexthop.Retry {
				if decision == nexthop.GoDirect || outcome.StatusCode < 400 {
					successes++
				} else {
					failures++
				}
				break
			}
			metrics.IncRetryTotal(strategy.Name)
		}
	}
	log.Infof("simulation complete: %d successes, %d failures", successes, failures)
}

func simulateAttempt(result nexthop.ParentResult) nexthop.Outcome {
	if rand.Intn(10) == 0 {
		return nexthop.ConnectFailureOutcome()
	}
	return nexthop.Outcome{StatusCode: 200}
}
