package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/redis"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	rank := flag.Int("rank", 0, "rank depth R (overrides retrieval.rankDepth)")
	labels := flag.String("labels", "", "relevance labels file; enables evaluation")
	output := flag.String("output", "", "rankings output file (overrides retrieval.outputPath)")
	flushCache := flag.Bool("flush-cache", false, "drop every cached ranking before the run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitUsage
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rank":
			cfg.Retrieval.RankDepth = *rank
		case "labels":
			cfg.Evaluation.LabelsPath = *labels
		case "output":
			cfg.Retrieval.OutputPath = *output
		}
	})

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return apperrors.ExitCode(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runID := pipeline.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx)

	p, err := pipeline.FromConfig(cfg)
	if err != nil {
		log.Error("failed to build pipeline", "error", err)
		return apperrors.ExitCode(err)
	}
	log.Info("starting retrieval run",
		"corpus", cfg.Retrieval.CorpusPath,
		"queries", cfg.Retrieval.QueryPath,
		"rank_depth", cfg.Retrieval.RankDepth,
		"tokenizer", cfg.Components.Tokenizer,
		"evaluation", cfg.Evaluation.Enabled(),
	)

	if cfg.Metrics.Enabled {
		p.Metrics = metrics.New()
		shutdown := p.Metrics.StartServer(cfg.Metrics.Port, nil)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	var cache *pipeline.RedisCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, ranking cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			cache = pipeline.NewRedisCache(redisClient, cfg.Redis.CacheTTL)
			p.Cache = cache
			log.Info("ranking cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	if *flushCache {
		if cache == nil {
			log.Warn("-flush-cache ignored, ranking cache disabled")
		} else if err := cache.Invalidate(ctx); err != nil {
			log.Error("failed to flush ranking cache", "error", err)
			return apperrors.ExitFailure
		}
	}

	runner := &pipeline.Runner{Pipeline: p}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Rankings)
		defer producer.Close()
		runner.Publisher = pipeline.NewKafkaPublisher(producer)
		log.Info("publishing rankings", "topic", cfg.Kafka.Topics.Rankings)
	}

	if cfg.Postgres.Enabled && cfg.Evaluation.Enabled() {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			return apperrors.ExitFailure
		}
		defer db.Close()
		store := evaluation.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("failed to prepare evaluation schema", "error", err)
			return apperrors.ExitFailure
		}
		runner.Store = store
	}

	summary, err := runner.RunFiles(ctx, cfg)
	if err != nil {
		log.Error("retrieval run failed", "error", err)
		return apperrors.ExitCode(err)
	}
	if cache != nil {
		hits, misses := cache.Stats()
		log.Info("ranking cache usage", "hits", hits, "misses", misses)
	}
	if summary.Report != nil {
		fmt.Fprintf(os.Stderr, "Recall: %.6f\n", summary.Report.Recall)
	}
	return 0
}
