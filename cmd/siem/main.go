// siem: tails an IDS alert log, enriches and stores alerts, and correlates them into detections.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"mini-siem/pkg/api"
	"mini-siem/pkg/config"
	"mini-siem/pkg/correlation"
	"mini-siem/pkg/enrich"
	"mini-siem/pkg/export"
	"mini-siem/pkg/filter"
	"mini-siem/pkg/logger"
	"mini-siem/pkg/orchestrator"
	"mini-siem/pkg/parser"
	"mini-siem/pkg/response"
	"mini-siem/pkg/store"
	"mini-siem/pkg/synthetic"
	"mini-siem/pkg/tail"
)

var (
	configPath  = flag.String("config", "", "Path to config YAML. Empty = defaults.")
	showVersion = flag.Bool("version", false, "Print version and exit.")
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("mini-siem", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger.Init(loggerOptions(cfg))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath); err != nil {
		logger.Error("siem: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("siem: stopped")
}

func loggerOptions(cfg *config.Config) logger.Options {
	return logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		JSON:       cfg.Logging.JSON,
	}
}

// run blocks until ctx is cancelled. Only setup failures are returned: the API server
// and the config watcher log their own errors and never stop the pipeline.
func run(ctx context.Context, cfg *config.Config, cfgPath string) error {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := correlation.NewEngine()
	applyThresholds(engine, cfg)
	suppressor := correlation.NewSuppressor(cfg.SuppressCooldown(), 0)

	var rules *filter.Filter
	if p := cfg.Filters.Path; p != "" {
		rs, err := filter.Load(p)
		if err != nil {
			logger.Warn("filters %s: %v (no filtering)", p, err)
		} else {
			logger.Info("filters: %d drop rules from %s", len(rs), p)
		}
		rules = filter.New(rs)
	}

	var lookup enrich.Lookup
	if cfg.EnrichmentEnabled() {
		lookup = enrich.NewHTTPLookup(cfg.Enrichment.URL, cfg.EnrichmentTimeout(), cfg.Enrichment.RatePerMinute)
	} else {
		logger.Info("enrichment: external lookups disabled")
	}
	enricher := enrich.New(enrich.NewCache(cfg.Enrichment.CacheSize, cfg.CacheTTL()), lookup, cfg.EnrichmentTimeout())

	nc := connectNats(cfg)
	if nc != nil {
		defer nc.Drain()
	}
	exporter, err := buildExporter(cfg, nc)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer exporter.Close()

	if nc != nil && cfg.Output.Nats.Commands {
		l := response.NewListener(nc, cfg.Output.Nats.CommandSubject, st, exporter)
		if err := l.Start(); err != nil {
			logger.Warn("response listener: %v", err)
		} else {
			defer l.Stop()
		}
	}

	var reader *tail.Reader
	if !cfg.Source.Synthetic {
		reader = tail.New(cfg.Source.Path, parser.New())
	}
	orch := orchestrator.New(orchestrator.Options{
		Reader:              reader,
		ForceSynthetic:      cfg.Source.Synthetic,
		Generator:           synthetic.New(cfg.Source.SyntheticSeed),
		SyntheticBatch:      cfg.Source.SyntheticBatch,
		Filter:              rules,
		Enricher:            enricher,
		Store:               st,
		Engine:              engine,
		Suppressor:          suppressor,
		Exporter:            exporter,
		Interval:            cfg.CollectionInterval(),
		ErrorBackoff:        cfg.ErrorBackoff(),
		CorrelationInterval: cfg.CorrelationInterval(),
		RecentLimit:         cfg.Correlation.RecentLimit,
		RetentionDays:       cfg.Store.RetentionDays,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	if cfg.APIEnabled() {
		srv := api.New(st, engine, orch, exporter, cfg.API.AllowedOrigins)
		g.Go(func() error {
			if err := srv.ListenAndServe(gctx, cfg.API.Addr); err != nil {
				logger.Error("api: %v (pipeline keeps running without the HTTP API)", err)
			}
			return nil
		})
	}
	if cfgPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, cfgPath, func(next *config.Config) {
				applyThresholds(engine, next)
				suppressor.SetCooldown(next.SuppressCooldown())
				logger.SetLevel(next.Logging.Level)
				if rules != nil && next.Filters.Path != "" {
					if rs, err := filter.Load(next.Filters.Path); err != nil {
						logger.Warn("filters: reload: %v (keeping previous)", err)
					} else {
						rules.SetRules(rs)
					}
				}
			})
			if err != nil {
				logger.Error("%v (hot reload disabled)", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func applyThresholds(e *correlation.Engine, cfg *config.Config) {
	e.SetTimeWindow(cfg.Correlation.WindowMinutes)
	e.SetAlertThreshold(cfg.Correlation.AlertThreshold)
	e.SetSignatureThreshold(cfg.Correlation.SignatureThreshold)
}

func connectNats(cfg *config.Config) *nats.Conn {
	n := cfg.Output.Nats
	if !n.Enabled || n.URL == "" {
		return nil
	}
	sensor, _ := os.Hostname()
	nc, err := export.Connect(n.URL, sensor)
	if err != nil {
		logger.Warn("nats connect: %v (NATS output disabled)", err)
		return nil
	}
	return nc
}

func buildExporter(cfg *config.Config, nc *nats.Conn) (*export.Exporter, error) {
	sensor, _ := os.Hostname()
	opts := export.Options{Stderr: cfg.OutputStderrEnabled(), Sensor: sensor}
	if cfg.Output.File.Enabled {
		opts.FilePath = cfg.Output.File.Path
	}
	if r := cfg.Output.Remote; r.Enabled {
		opts.Publishers = append(opts.Publishers,
			export.NewRemoteOutput(r.Address, r.Protocol, r.HTTPEndpoint, r.MaxRetries, r.RetryIntervalSeconds, sensor))
		logger.Info("remote output: %s (%s)", r.Address, r.Protocol)
	}
	if nc != nil {
		n := cfg.Output.Nats
		opts.Publishers = append(opts.Publishers, export.NewNatsOutput(nc, n.Subject, n.BlockSubject))
		logger.Info("NATS output: %s, blocks on %s", n.Subject, n.BlockSubject)
	}
	return export.New(opts)
}
