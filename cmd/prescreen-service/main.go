package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/config"
	"github.com/synaptica-ai/prescreen/pkg/common/database"
	"github.com/synaptica-ai/prescreen/pkg/common/kafka"
	"github.com/synaptica-ai/prescreen/pkg/common/logger"
	"github.com/synaptica-ai/prescreen/pkg/dlp"
	"github.com/synaptica-ai/prescreen/pkg/engine"
	"github.com/synaptica-ai/prescreen/pkg/evaluator"
	"github.com/synaptica-ai/prescreen/pkg/gateway/middleware"
	"github.com/synaptica-ai/prescreen/pkg/llm"
	"github.com/synaptica-ai/prescreen/pkg/observability/metrics"
	"github.com/synaptica-ai/prescreen/pkg/pipeline"
	"github.com/synaptica-ai/prescreen/pkg/prescreen"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	catalog, err := ruleset.LoadDir(cfg.RulesetDir, cfg.RulesetVersion, log)
	if err != nil {
		log.WithError(err).Fatal("failed to load ruleset")
	}

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.WithError(err).Warn("close failed")
			}
		}
	}()

	repo, closeRepo := openRepository(cfg, log)
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}
	locker, closeLocker := openLocker(cfg, log)
	if closeLocker != nil {
		closers = append(closers, closeLocker)
	}

	var events prescreen.Publisher = prescreen.NoopPublisher{}
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaSessionTopic, log)
		closers = append(closers, producer.Close)
		events = prescreen.NewKafkaPublisher(producer)
	}

	eng := engine.New(catalog, evaluator.New(log), repo, engine.Options{
		DefaultERSeverity:     cfg.DefaultERSeverity,
		DefaultERDepartment:   cfg.DefaultERDepartment,
		PediatricAgeThreshold: cfg.PediatricAgeThreshold,
		MaxAutoEvalSteps:      cfg.MaxAutoEvalSteps,
	}, log)

	var generator pipeline.QuestionGenerator
	var predictor pipeline.Predictor
	if cfg.LLMEnabled {
		var redactor *dlp.Detector
		if cfg.DLPEnabled {
			rules, err := dlp.LoadRules(cfg.DLPRulesPath)
			if err != nil {
				log.WithError(err).Fatal("failed to load dlp rules")
			}
			if redactor, err = dlp.NewDetector(rules); err != nil {
				log.WithError(err).Fatal("failed to compile dlp rules")
			}
		}
		client := llm.NewClient(llm.Config{
			APIKey:        cfg.LLMAPIKey,
			BaseURL:       cfg.LLMBaseURL,
			Model:         cfg.LLMModelName,
			Timeout:       cfg.LLMRequestTimeout,
			RetryAttempts: cfg.LLMRetryAttempts,
			Redactor:      redactor,
		}, log)
		generator = llm.NewQuestionGenerator(client, llm.DefaultMaxQuestions, log)
		predictor = llm.NewPredictor(client, catalog, log)
	}

	service := prescreen.NewService(pipeline.New(eng, generator, predictor, log), locker, events, metrics.New(), log)
	router := prescreen.NewHandler(service, log).Routes()
	router.Use(
		middleware.Recovery(log),
		middleware.Logging(log),
		middleware.CORS,
		middleware.BodyLimit(cfg.MaxRequestBody),
		middleware.RateLimit(cfg.GatewayRateLimitRPS, cfg.GatewayRateLimitBurst),
	)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":            address,
			"ruleset_version": catalog.Version(),
			"storage":         cfg.StorageBackend,
			"lock":            cfg.LockBackend,
			"llm":             cfg.LLMEnabled,
		}).Info("Prescreen service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("failed to start prescreen service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down prescreen service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Prescreen service forced to shutdown")
	}
	log.Info("Prescreen service stopped")
}

func openRepository(cfg *config.Config, log logrus.FieldLogger) (session.Repository, func() error) {
	if cfg.StorageBackend == "memory" {
		log.Warn("Using in-memory session storage")
		return session.NewMemoryRepository(), nil
	}

	db, err := database.OpenPostgres(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	repo := session.NewPostgresRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("failed to migrate session tables")
	}
	return repo, func() error { return database.ClosePostgres(db) }
}

func openLocker(cfg *config.Config, log logrus.FieldLogger) (session.Locker, func() error) {
	if cfg.LockBackend == "local" {
		return session.NewLocalLocker(), nil
	}

	client, err := database.OpenRedis(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	return session.NewRedisLocker(client, cfg.LockTTL(), log), client.Close
}
