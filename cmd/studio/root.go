package main

import (
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/digkill/printstudio/internal/config"
	"github.com/digkill/printstudio/pkg/logger"
)

type commandContext struct {
	configOnce sync.Once
	config     config.Config
	configErr  error
	log        *slog.Logger
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
		if c.configErr == nil {
			c.log = logger.New(c.config.LogLevel, c.config.LogFormat)
		}
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "studio",
		Short:         "Creative publishing studio: plan, illustrate and mock up printable products",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newProjectsCommand(ctx))

	return rootCmd
}
