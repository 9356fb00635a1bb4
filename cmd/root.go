// Package cmd defines and implements the CLI commands for the site-cloner executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/app"
	"github.com/JakeFAU/site-cloner/internal/config"
	"github.com/JakeFAU/site-cloner/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// allowPrivateFlag lets trusted commands admit loopback and private targets.
const allowPrivateFlag = "allow-private"

// newApp is the application factory. It's a variable so tests can swap in a
// factory with an isolated metrics registry.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "site-cloner",
		Short: "Clone a web page into a self-contained document.",
		Long: `site-cloner fetches a page through relay endpoints, optionally renders it
in headless Chrome or pulls structured content from its CMS, embeds its
assets and produces a single self-contained HTML document.`,
		SilenceUsage: true,

		// Runs before every subcommand: load config, build the logger and the
		// application, and store the app in the command context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if f := cmd.Flags().Lookup(allowPrivateFlag); f != nil && f.Changed {
				allow, err := cmd.Flags().GetBool(allowPrivateFlag)
				if err != nil {
					return fmt.Errorf("read --%s: %w", allowPrivateFlag, err)
				}
				cfg.Server.AllowPrivate = allow
			}
			logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return
			}
			if err := appInstance.Close(context.Background()); err != nil {
				appInstance.Logger.Warn("close application services", zap.Error(err))
			}
			_ = appInstance.Logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CLONER_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCloneCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
