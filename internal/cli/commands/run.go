package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/threateye/internal/config"
	"github.com/threateye/internal/database"
	"github.com/threateye/internal/detector"
	"github.com/threateye/internal/dispatch"
	"github.com/threateye/internal/escalation"
	"github.com/threateye/internal/logger"
	"github.com/threateye/internal/notify"
	"github.com/threateye/internal/queue"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// pipeline holds the components the periodic jobs run against. Each job
// command builds one from config, runs, and exits; cron provides the cadence.
type pipeline struct {
	db         *gorm.DB
	log        *zap.Logger
	queue      *queue.Queue
	detector   *detector.Detector
	dispatcher *dispatch.Dispatcher
	engine     *escalation.Engine
	cfg        *config.Config
}

func buildPipeline() (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	q := queue.New(db, log)
	dialer := gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Password)
	dispatcher := dispatch.New(db, q, cfg.Dashboard.BaseURL, log,
		notify.NewEmailSender(dialer, cfg.SMTP.From),
		notify.NewPushSender(db, cfg.WebPush.VAPIDPublicKey, cfg.WebPush.VAPIDPrivateKey, cfg.WebPush.Subscriber, log),
		notify.NewWebhookSender(db, log),
		notify.NewInAppSender(db),
	)

	return &pipeline{
		db:         db,
		log:        log,
		queue:      q,
		detector:   detector.New(db, q, log),
		dispatcher: dispatcher,
		engine:     escalation.NewEngine(db, dispatcher, log),
		cfg:        cfg,
	}, nil
}

func (p *pipeline) close() {
	database.Close(p.db)
	p.log.Sync()
}

// NewDetectCommand runs one detection pass over all monitored assets.
func NewDetectCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one detection pass over monitored assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			stats, err := p.detector.RunDetectionPass(ctx)
			if stats != nil {
				fmt.Printf("checked=%d matches=%d enqueued=%d errors=%d\n",
					stats.AssetsChecked, stats.MatchesFound, stats.EventsEnqueued, stats.Errors)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "time budget for the pass")
	return cmd
}

// NewDispatchCommand claims pending alert events and delivers notifications.
func NewDispatchCommand() *cobra.Command {
	var limit int
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Claim pending alert events and send notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.close()

			if limit <= 0 {
				limit = p.cfg.Dispatch.ClaimLimit
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return p.dispatcher.Run(ctx, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max events to claim (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "time budget for the run")
	return cmd
}

// NewEscalateCommand advances active escalations whose level timeout elapsed.
func NewEscalateCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Process active escalations against their policy timeouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return p.engine.ProcessAll(ctx)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "time budget for the run")
	return cmd
}
