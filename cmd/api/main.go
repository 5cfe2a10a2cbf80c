package main

import (
	"github.com/askchat/backend/internal/askchat"
	"github.com/askchat/backend/internal/chat"
	"github.com/askchat/backend/internal/config"
	"github.com/askchat/backend/internal/db"
	"github.com/askchat/backend/internal/events"
	"github.com/askchat/backend/internal/httpapi"
	"github.com/askchat/backend/internal/logger"
	"github.com/askchat/backend/internal/push"
	"github.com/askchat/backend/internal/store"
	"github.com/askchat/backend/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb := db.Connect(cfg.DBDSN)
	if err := store.AutoMigrate(gdb); err != nil {
		log.Fatal("automigrate", "err", err)
	}
	repo := store.NewRepo(gdb)

	var tokens chat.TokenStore = repo
	if rdb, err := redisstore.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
		log.Warn("redis unavailable, token reads go to the store", "err", err)
	} else {
		tokens = redisstore.NewTokenCache(rdb, repo, log)
	}

	pub, err := events.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit publisher", "err", err)
	}
	defer pub.Close()

	asker := askchat.NewClient(cfg.BackendURL, cfg.BackendToken)
	sender := push.NewHTTPSender(cfg.PushGatewayURL, cfg.NotificationChannel)

	svc := chat.NewService(repo, asker, sender, tokens, pub, log, config.AssistantID)

	r := httpapi.NewRouter(svc, cfg, log)
	log.Info("api listening", "addr", cfg.APIAddr, "region", cfg.Region)
	if err := r.Run(cfg.APIAddr); err != nil {
		log.Fatal("api server", "err", err)
	}
}
