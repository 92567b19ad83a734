// Command olah-mirror runs the HuggingFace-hub-compatible caching
// mirror: it loads config, builds RangeStreamingPipeline's collaborators
// (RuleEngine, CommitResolver, Pipeline, DiskReaper), and serves them
// over HTTP — the entrypoint the teacher's original main.go filled with
// its own CDN reverse-proxy (kratos app, tableflip, storage.New,
// proxy.New, plugin loader). Graceful-restart plumbing (tableflip) and
// the prometheus Go-runtime collector registration are kept from that
// file; everything downstream of config load is new.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vtuber-plan/olah/contrib/log"
	"github.com/vtuber-plan/olah/internal/config"
	"github.com/vtuber-plan/olah/internal/logging"
	"github.com/vtuber-plan/olah/internal/metrics"
	"github.com/vtuber-plan/olah/internal/pipeline"
	"github.com/vtuber-plan/olah/internal/reaper"
	"github.com/vtuber-plan/olah/internal/rules"
	"github.com/vtuber-plan/olah/internal/upstream"
	"github.com/vtuber-plan/olah/server"
)

var flagConf string

func init() {
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
}

func main() {
	flag.Parse()

	watcher, err := config.Watch(flagConf)
	if err != nil {
		// Absence of a config file is not fatal: Default() already
		// describes a usable single-upstream mirror.
		log.Warnf("olah-mirror: %v, starting from defaults", err)
		watcher = nil
	}

	bc := config.Default()
	if watcher != nil {
		bc = watcher.Current()
	}

	logging.Install(bc.Logger)
	log.SetLogger(log.With(log.GetLogger(), "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
	collector := metrics.NewCollectors(registry)

	ruleEngine := rules.New(config.ToRules(bc.Proxy))
	cacheACL := rules.New(config.ToRules(bc.CacheACL))

	client := upstream.NewClient(bc.Upstream.Scheme, bc.Upstream.Netloc, bc.Upstream.LFSNetloc)
	resolver := upstream.NewCommitResolver(client, bc.Cache.ReposPath, bc.Upstream.Offline)
	pl := pipeline.New(client)

	sizeLimit, err := config.ParseSize(bc.Cache.SizeLimit)
	if err != nil {
		log.Fatalf("olah-mirror: cache-size-limit: %v", err)
	}
	rp := reaper.New(bc.Cache.ReposPath, sizeLimit, reaper.Policy(bc.Cache.CleanStrategy))
	rp.Recorder = collector

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rp.Run(ctx)

	srv := server.New(server.Options{
		Addr:             bc.Server.Addr,
		ReadTimeout:      bc.Server.ReadTimeout,
		WriteTimeout:     bc.Server.WriteTimeout,
		IdleTimeout:      bc.Server.IdleTimeout,
		TLSCert:          bc.Server.TLSCert,
		TLSKey:           bc.Server.TLSKey,
		Pipeline:         pl,
		Resolver:         resolver,
		Rules:            ruleEngine,
		CacheACL:         cacheACL,
		Client:           client,
		Registry:         registry,
		Metrics:          collector,
		ReposPath:        bc.Cache.ReposPath,
		Offline:          bc.Upstream.Offline,
		BlockSizeHint:    bc.Cache.DefaultBlockSize,
		MirrorScheme:     bc.Upstream.MirrorScheme,
		MirrorNetloc:     bc.Upstream.MirrorNetloc,
		AccessLogEnabled: true,
		AccessLogPath:    "",
	})

	if watcher != nil {
		watcher.OnReload(func(next *config.Bootstrap) {
			ruleEngine.Replace(config.ToRules(next.Proxy))
			cacheACL.Replace(config.ToRules(next.CacheACL))
			log.Infof("olah-mirror: rule set reloaded (%d proxy, %d cache rules)", len(next.Proxy), len(next.CacheACL))
		})
	}

	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        pidFilePath(bc.Server.Addr),
		UpgradeTimeout: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("olah-mirror: tableflip: %v", err)
	}
	defer flip.Stop()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP)
		for range sig {
			log.Infof("olah-mirror: SIGHUP received, upgrading")
			_ = flip.Upgrade()
		}
	}()

	network := "tcp"
	if strings.HasSuffix(bc.Server.Addr, ".sock") {
		network = "unix"
	}
	ln, err := flip.Listen(network, bc.Server.Addr)
	if err != nil {
		log.Fatalf("olah-mirror: listen %s: %v", bc.Server.Addr, err)
	}

	if err := flip.Ready(); err != nil {
		log.Fatalf("olah-mirror: tableflip ready: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeListener(ln) }()

	select {
	case <-flip.Exit():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			log.Errorf("olah-mirror: serve: %v", err)
		}
	}
}

func pidFilePath(addr string) string {
	name := strings.NewReplacer(":", "_", "/", "_").Replace(addr)
	return "olah-mirror-" + name + ".pid"
}
