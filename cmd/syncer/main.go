// Command syncer is the bootstrap/config component (C6): it wires the
// repository backend chosen by its CLI argument, the upstream client, and
// the scheduler, then runs until terminated.
//
// Usage: syncer [zookeeper]
//
// A single positional argument of "zookeeper" selects the coordination-
// service backend (etcd, see DESIGN.md); anything else, or no argument,
// selects the networked hash-store backend (redis).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/config"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/logging"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/metrics"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/repository"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/syncer"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/upstream"
)

func main() {
	backendArg := ""
	if len(os.Args) > 1 {
		backendArg = os.Args[1]
	}

	cfg, err := config.Load(backendArg)
	if err != nil {
		log.Fatalf("syncer: %v", err)
	}

	repo, closeRepo, err := buildRepository(cfg)
	if err != nil {
		log.Fatalf("syncer: %v", err)
	}
	defer closeRepo()

	client := upstream.NewClient(cfg.SentinelHubRootURL, cfg.ClientID, cfg.ClientSecret)

	s := syncer.New(repo, client, syncer.Config{
		RefreshBucketsSec: cfg.RefreshBucketsSec,
		RevisitTimeMsec:   cfg.RevisitTimeMsec,
	})
	s.Logger = logging.New(os.Stderr, "syncer: ", logging.ParseLevel(cfg.LogLevel))

	reg := metrics.NewRegistry()
	reg.MustRegister(prometheus.DefaultRegisterer)
	s.Metrics = reg

	go serveMetrics()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("syncer: fatal: %v", err)
	}
	log.Println("syncer: stopped")
}

func buildRepository(cfg config.Config) (repository.Repository, func(), error) {
	if cfg.Backend == "zookeeper" {
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   []string{cfg.ZookeeperHosts},
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect coordination service: %w", err)
		}
		return repository.NewEtcdRepository(cli, "/openeo/rlguard"), func() { _ = cli.Close() }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
	})
	return repository.NewRedisRepository(rdb), func() { _ = rdb.Close() }, nil
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		addr = v
	}
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("syncer: metrics server stopped: %v", err)
	}
}
