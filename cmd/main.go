package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"reminder-service/internal/app"
	"reminder-service/internal/config"
	"reminder-service/internal/logger"
)

type runContext struct {
	ctx context.Context
	app *app.App
	log *zap.Logger
}

type SchedulerCmd struct{}

func (c *SchedulerCmd) Run(rc *runContext) error {
	return rc.app.RunScheduler(rc.ctx)
}

type SenderCmd struct{}

func (c *SenderCmd) Run(rc *runContext) error {
	return rc.app.RunSender(rc.ctx)
}

type StandaloneCmd struct{}

func (c *StandaloneCmd) Run(rc *runContext) error {
	return rc.app.RunStandalone(rc.ctx)
}

type SweepCmd struct{}

func (c *SweepCmd) Run(rc *runContext) error {
	res, err := rc.app.SweepOnce(rc.ctx)
	if err != nil {
		return err
	}
	fmt.Printf("window [%s, %s): reminders=%d occurrences=%d published=%d already_claimed=%d publish_failed=%d failures=%d oneoffs_finalized=%d\n",
		res.Window.Start.Format("15:04:05"), res.Window.End.Format("15:04:05"),
		res.Reminders, res.Occurrences, res.Published, res.AlreadyClaimed,
		res.PublishFailed, res.ReminderFailures, res.OneoffsFinalized,
	)
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(rc *runContext) error {
	return rc.app.Migrate(rc.ctx)
}

var CLI struct {
	Version kong.VersionFlag
	Config  string `help:"Config file path (defaults to $CONFIG_PATH or ./config/base.yaml)." type:"path"`

	Scheduler  SchedulerCmd  `cmd:"" help:"Sweep reminders and publish fire events."`
	Sender     SenderCmd     `cmd:"" help:"Consume fire events and deliver them to Telegram."`
	Standalone StandaloneCmd `cmd:"" help:"Run scheduler and sender in one process."`
	Sweep      SweepCmd      `cmd:"" help:"Run a single sweep and exit."`
	Migrate    MigrateCmd    `cmd:"" help:"Apply database migrations."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("reminders"),
		kong.Description("Reminder scheduling and delivery pipeline"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", cfg.Service.Name), zap.String("env", cfg.Service.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := &runContext{ctx: ctx, app: app.New(cfg, log), log: log}
	if err := kctx.Run(rc); err != nil {
		log.Error("command failed", zap.String("command", kctx.Command()), zap.Error(err))
		_ = log.Sync()
		stop()
		os.Exit(1)
	}
}
