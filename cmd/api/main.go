package main

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/sirupsen/logrus"

	"github.com/studyowl/textbook-ai/internal/ai"
	"github.com/studyowl/textbook-ai/internal/chat"
	"github.com/studyowl/textbook-ai/internal/config"
	"github.com/studyowl/textbook-ai/internal/db"
	"github.com/studyowl/textbook-ai/internal/httpapi"
	"github.com/studyowl/textbook-ai/internal/httpapi/handlers"
	"github.com/studyowl/textbook-ai/internal/jobs"
	"github.com/studyowl/textbook-ai/internal/ledger"
	"github.com/studyowl/textbook-ai/internal/params"
	"github.com/studyowl/textbook-ai/internal/session"
	"github.com/studyowl/textbook-ai/internal/store/rabbitmq"
	"github.com/studyowl/textbook-ai/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	log := logrus.WithField("service", "api")

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logrus.Fatalf("db connect: %v", err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		logrus.Fatalf("db migrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		logrus.Fatalf("rabbit: %v", err)
	}
	defer rabbit.Close()

	awsSess, err := awssession.NewSession(&aws.Config{Region: aws.String(cfg.AWSRegion)})
	if err != nil {
		logrus.Fatalf("aws session: %v", err)
	}
	paramProvider := params.NewProvider(awsSess)
	limits := params.NewDailyLimitResolver(paramProvider, rds, cfg.DailyTokenLimitParam, log)

	guard := session.NewGuard(gdb, log)
	usageLedger := ledger.New(gdb, limits, time.Duration(cfg.TokenWindowHours)*time.Hour, log)

	registry := ai.NewRegistry()
	registry.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	chatSvc := chat.NewService(gdb, guard, usageLedger, registry, rds, cfg.AIProvider, cfg.OllamaModel, log)
	jobStore := jobs.NewStore(gdb, log)

	h := handlers.NewHandler(cfg, guard, chatSvc, jobStore, rabbit)
	r := httpapi.NewRouter(h, cfg.JWTSecret)

	log.WithField("addr", cfg.HTTPAddr).Info("api listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logrus.Fatalf("http server: %v", err)
	}
}
