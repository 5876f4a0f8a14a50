package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"seedrelay/config"
	"seedrelay/internal/bot"
	"seedrelay/internal/chat"
	"seedrelay/internal/engine"
	"seedrelay/internal/handler"
	"seedrelay/internal/repo"
	"seedrelay/internal/scheduler"
	"seedrelay/internal/seedbox"
	"seedrelay/internal/store"
	"seedrelay/internal/transfer"
	"seedrelay/router"
)

// main wires the relay daemon: store, seedbox client, transfer executor,
// lifecycle engine, scheduler, bot and the control-channel server.
func main() {
	cfg := config.Load()

	db, err := repo.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("open database: ", err)
	}

	st := store.New(db)
	sb := seedbox.NewClient(cfg.QbitURL, cfg.QbitUsername, cfg.QbitPassword, cfg.QbitTag)
	executor := transfer.NewExecutor(
		cfg.SSHKeyPath,
		cfg.RsyncBwLimitKBps,
		cfg.SSHConnectTimeout,
		cfg.StagingDir(),
		cfg.TrashDir(),
		cfg.DryRun,
	)
	eng := engine.New(st, sb, executor, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Leftover staging entries are partial copies from a previous crash; no
	// copy can be in flight yet.
	executor.CleanStaging()

	sched := scheduler.New(st)
	sched.Register(scheduler.JobPull, cfg.PullCron, func(ctx context.Context) (string, error) {
		summary, err := eng.Pull(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("merged %d torrents", summary.Merged), nil
	})
	sched.Register(scheduler.JobTransfer, cfg.TransferCron, func(ctx context.Context) (string, error) {
		summary, err := eng.Transfer(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("started %d, transferred %d, %d still pending",
			summary.Started, summary.Transferred, summary.Pending), nil
	})
	sched.Register(scheduler.JobSweep, cfg.SweepCron, func(ctx context.Context) (string, error) {
		summary, err := eng.Sweep(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("reclaimed %d, purged %d", summary.Reclaimed, summary.Purged), nil
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatal("start scheduler: ", err)
	}
	defer sched.Stop()

	if cfg.TelegramBotToken != "" {
		b := bot.New(chat.NewClient(cfg.TelegramBotToken), cfg.TelegramChatID,
			cfg.TelegramPollTimeout, sched, eng)
		go func() {
			if err := b.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("bot stopped: %v", err)
			}
		}()
	} else {
		log.Println("no telegram token configured, command surface disabled")
	}

	api := handler.NewAPI(eng)
	r := router.InitRouter(api, cfg.APIKey)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal("control channel server: ", err)
	}
}
