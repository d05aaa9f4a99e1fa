package main

import (
	"log"

	"github.com/threateye/internal/api"
	"github.com/threateye/internal/auth"
	"github.com/threateye/internal/config"
	"github.com/threateye/internal/database"
	"github.com/threateye/internal/dispatch"
	"github.com/threateye/internal/escalation"
	"github.com/threateye/internal/logger"
	"github.com/threateye/internal/notify"
	"github.com/threateye/internal/queue"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Log)
	defer zlog.Sync()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close(db)

	q := queue.New(db, zlog)
	dialer := gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Password)
	dispatcher := dispatch.New(db, q, cfg.Dashboard.BaseURL, zlog,
		notify.NewEmailSender(dialer, cfg.SMTP.From),
		notify.NewPushSender(db, cfg.WebPush.VAPIDPublicKey, cfg.WebPush.VAPIDPrivateKey, cfg.WebPush.Subscriber, zlog),
		notify.NewWebhookSender(db, zlog),
		notify.NewInAppSender(db),
	)
	engine := escalation.NewEngine(db, dispatcher, zlog)
	authenticator := auth.New(db, cfg.Server.JWTSecret)

	server := api.NewServer(db, q, dispatcher, engine, authenticator)
	zlog.Info("starting API server", zap.Int("port", cfg.Server.Port))
	if err := server.Start(cfg.Server.Port); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}
