package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/redis"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitUsage
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.ValidateStream(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return apperrors.ExitCode(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, pipeline.NewRunID())
	log := logger.FromContext(ctx)
	log.Info("starting query worker",
		"corpus", cfg.Retrieval.CorpusPath,
		"topic", cfg.Kafka.Topics.Queries,
		"group", cfg.Kafka.ConsumerGroup,
	)

	tok, err := tokenizer.New(tokenizer.Options{
		Kind:      cfg.Components.Tokenizer,
		CacheSize: cfg.Components.QueryCacheSize,
	})
	if err != nil {
		log.Error("failed to create tokenizer", "error", err)
		return apperrors.ExitCode(err)
	}

	start := time.Now()
	passages, err := corpus.ReadFile(cfg.Retrieval.CorpusPath, corpus.Passages)
	if err != nil {
		log.Error("failed to read corpus", "error", err)
		return apperrors.ExitCode(err)
	}
	idx, err := index.Build(passages, tokenizer.Uncached(tok))
	if err != nil {
		log.Error("failed to build index", "error", err)
		return apperrors.ExitCode(err)
	}
	stats := idx.Stats()

	var m *metrics.Metrics
	checker := health.NewChecker()
	checker.Require("index", func(context.Context) error {
		if idx.Stats().Passages == 0 {
			return errors.New("index is empty")
		}
		return nil
	})

	var cache pipeline.ComputeCache = pipeline.NewMemoryCache(cfg.Components.QueryCacheSize)
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, using in-process ranking cache", "error", err)
		} else {
			defer redisClient.Close()
			cache = pipeline.NewRedisCache(redisClient, cfg.Redis.CacheTTL)
			checker.Optional("redis", redisClient.Ping)
			log.Info("ranking cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.PassagesIndexed.Set(float64(stats.Passages))
		m.VocabularySize.Set(float64(stats.Vocabulary))
		m.IncidenceNonZero.Set(float64(stats.NonZeros))
		m.ObserveStage("encode", start)
		shutdown := m.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"GET /health/live":  checker.LiveHandler(),
			"GET /health/ready": checker.ReadyHandler(),
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Rankings)
	defer producer.Close()

	worker := pipeline.NewWorker(idx, pipeline.WorkerOptions{
		Tokenizer: tok,
		Cache:     cache,
		Publisher: pipeline.NewKafkaPublisher(producer),
		RankDepth: cfg.Retrieval.RankDepth,
		Metrics:   m,
	})
	log.Info("index ready",
		"passages", stats.Passages,
		"vocabulary", stats.Vocabulary,
		"fingerprint", worker.Fingerprint(),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Queries, worker.Handle)
	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", "error", err)
		return apperrors.ExitFailure
	}
	log.Info("query worker stopped")
	return 0
}
