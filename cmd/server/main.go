package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver

	"github.com/trustengine/backend/internal/api"
	"github.com/trustengine/backend/internal/audit"
	"github.com/trustengine/backend/internal/classifier"
	"github.com/trustengine/backend/internal/config"
	"github.com/trustengine/backend/internal/engine"
	"github.com/trustengine/backend/internal/events"
	"github.com/trustengine/backend/internal/metrics"
	"github.com/trustengine/backend/internal/mfa"
	"github.com/trustengine/backend/internal/middleware"
	"github.com/trustengine/backend/internal/policy"
	"github.com/trustengine/backend/internal/scoring"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults are used when empty)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("config load failed", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	slog.Info("starting adaptive trust engine", "env", cfg.Server.Env, "port", cfg.Server.Port)

	eng, err := buildEngine(cfg)
	if err != nil {
		slog.Error("engine construction failed", "error", err)
		os.Exit(1)
	}

	if cfg.Sessions.SweepIntervalSecs > 0 && cfg.Sessions.MaxIdleSecs > 0 {
		eng.Sessions().StartSweeper(
			time.Duration(cfg.Sessions.SweepIntervalSecs)*time.Second,
			time.Duration(cfg.Sessions.MaxIdleSecs)*time.Second,
			make(chan struct{}),
		)
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			MaxCallsPerMinute: cfg.RateLimit.RequestsPerMinute,
		})
	}

	server := api.NewServer(eng, limiter)
	if err := server.Start(cfg.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	weights, err := cfg.CategoryWeights()
	if err != nil {
		return nil, err
	}
	scorer := scoring.NewTrustScorer(weights)

	rules, err := cfg.PolicyRules()
	if err != nil {
		return nil, err
	}

	var cls classifier.Classifier
	if cfg.Classifier.Backend == "remote" {
		cls = classifier.NewRemoteClassifier(
			cfg.Classifier.Remote.URL,
			cfg.Classifier.Remote.SigningSecret,
			time.Duration(cfg.Classifier.Remote.TimeoutSecs)*time.Second,
		)
		slog.Info("using remote classifier", "url", cfg.Classifier.Remote.URL)
	} else {
		cls = classifier.NewRuleClassifier(classifier.Thresholds{
			HighMean:   cfg.Classifier.Thresholds.HighMean,
			HighMax:    cfg.Classifier.Thresholds.HighMax,
			MediumMean: cfg.Classifier.Thresholds.MediumMean,
		})
	}

	return engine.New(engine.Options{
		Classifier:   cls,
		Scorer:       scorer,
		Resolver:     policy.NewResolver(rules, scorer),
		Orchestrator: mfa.NewOrchestrator(cfg.ChallengeTTL()),
		Audit:        buildAuditSink(cfg),
		Bus:          buildBus(cfg),
		Metrics:      metrics.New(),
	}), nil
}

// buildAuditSink selects the audit store. Sink failures at startup degrade
// to the noop store; auditing is best-effort by design.
func buildAuditSink(cfg *config.Config) audit.Store {
	switch cfg.Audit.Sink {
	case "supabase":
		store, err := audit.NewSupabaseStore()
		if err != nil {
			slog.Warn("Supabase audit sink unavailable, auditing disabled", "error", err)
			return audit.NoopStore{}
		}
		slog.Info("audit sink: supabase")
		return store
	case "postgres":
		url := cfg.Audit.PostgresURL
		if url == "" {
			url = os.Getenv("DATABASE_URL")
		}
		store, err := audit.NewPostgresStore(url)
		if err != nil {
			slog.Warn("Postgres audit sink unavailable, auditing disabled", "error", err)
			return audit.NoopStore{}
		}
		slog.Info("audit sink: postgres")
		return store
	default:
		return audit.NoopStore{}
	}
}

// buildBus selects the event bus, falling back to in-process delivery when
// Redis is not reachable.
func buildBus(cfg *config.Config) events.Bus {
	if cfg.Events.RedisAddr == "" {
		return events.NewLocalBus()
	}
	bus, err := events.NewRedisBus(
		cfg.Events.RedisAddr,
		cfg.Events.RedisPassword,
		cfg.Events.RedisDB,
		cfg.Events.ChannelPrefix,
	)
	if err != nil {
		slog.Warn("Redis unavailable, using local event bus", "error", err)
		return events.NewLocalBus()
	}
	return bus
}
