package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/app"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

type commandContext struct {
	envFile string
	verbose bool
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "streamctl",
		Short:         "Operate the entitlement and account security core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.envFile != "" {
				return godotenv.Load(ctx.envFile)
			}
			_ = godotenv.Load()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.envFile, "env-file", "", "Load environment from this file instead of .env")
	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(newEvaluateCommand())
	rootCmd.AddCommand(newSelectCommand())
	rootCmd.AddCommand(newAccountCommand(ctx))

	return rootCmd
}

func (c *commandContext) logger() (*zap.SugaredLogger, error) {
	if !c.verbose {
		return zap.NewNop().Sugar(), nil
	}
	cfg := utilities.ConfigFromEnv()
	cfg.File = ""
	lg, err := utilities.Init(cfg)
	if err != nil {
		return nil, err
	}
	return lg.Sugar(), nil
}

// openAccounts connects the account store configured in the environment.
func (c *commandContext) openAccounts(cmd *cobra.Command) (*app.App, error) {
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	cfg, err := app.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return app.NewAccounts(cmd.Context(), cfg, logger)
}
