package main

import (
	"context"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"group-chat-service/internal/chat"
	"group-chat-service/internal/content"
	"group-chat-service/internal/server"
	"group-chat-service/internal/storage"
	"group-chat-service/internal/upload"
)

func main() {
	// a missing .env file is fine, the environment wins anyway
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	srvCfg := server.EnvConfig{}
	if err := env.Parse(&srvCfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}

	dbCfg := storage.Config{}
	if err := env.Parse(&dbCfg); err != nil {
		sugar.Fatalf("Cannot parse db env config: %v", err)
	}

	store, err := storage.New(sugar, dbCfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	kinds, err := store.ContentKinds(context.Background())
	if err != nil {
		sugar.Fatalf("Cannot load content kinds: %v", err)
	}

	registry, err := content.NewRegistry(kinds)
	if err != nil {
		sugar.Fatalf("Cannot build content kind registry: %v", err)
	}

	classifier, err := upload.NewClassifier(srvCfg.UploadDir)
	if err != nil {
		sugar.Fatalf("Cannot create upload classifier: %v", err)
	}

	svc := chat.NewService(sugar, store, registry, classifier)

	serverOpts := []server.Option{
		server.WithEnvConfig(srvCfg),
		server.ReadTimeout(5 * time.Second),
		server.TimeoutHandler(30*time.Second, "request timed out"),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			store.Close()
			sugar.Info("Store is closed")
		}),
	}

	srv, err := server.New(logger, svc, srvCfg.MaxUploadBytes, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
