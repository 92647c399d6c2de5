package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/printstudio/internal/api"
	"github.com/digkill/printstudio/internal/persistence"
	"github.com/digkill/printstudio/internal/service"
	"github.com/digkill/printstudio/internal/telegram"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var noBot bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when a token is configured, the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, noBot)
		},
	}
	cmd.Flags().BoolVar(&noBot, "no-bot", false, "Do not start the Telegram bot even if a token is set")
	return cmd
}

func runServe(parent context.Context, cc *commandContext, noBot bool) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	logr := cc.log

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := openBackends(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logr.Error("close persistence", "err", err)
		}
	}()

	client, err := buildProvider(cfg, logr)
	if err != nil {
		return err
	}

	writer := persistence.NewWriter(stores.projects, logr)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := writer.Close(closeCtx); err != nil {
			logr.Error("flush pending snapshots", "err", err)
		}
	}()

	gate := service.NewAccessGate(cfg.AccessCodes)
	projectService := service.NewProjectService(logr, service.NewBoundedSessionRegistry(cfg.MaxSessions, cfg.SessionIdleTTL), writer)
	generationService := service.NewGenerationService(logr, projectService, client, stores.generations, cfg.PageParallelism)

	var bot *telegram.Bot
	if cfg.BotToken != "" && !noBot {
		botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
		bot = telegram.NewBot(botAPI, logr, gate, projectService, generationService)
	} else {
		logr.Info("telegram bot disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	apiServer := api.NewServer(cfg.ListenAddr, logr, gate, projectService, generationService, stores.generations)
	g.Go(func() error {
		return apiServer.Run(gctx)
	})
	if bot != nil {
		g.Go(func() error {
			if err := bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("studio stopped", "err", err)
		return err
	}
	return nil
}
