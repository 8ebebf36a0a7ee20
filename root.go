package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/config"
	"github.com/example/face-analysis/internal/controller"
	"github.com/example/face-analysis/internal/logging"
	"github.com/example/face-analysis/internal/normalizer"
	"github.com/example/face-analysis/internal/prediction"
	"github.com/example/face-analysis/internal/tips"
)

// app carries what every subcommand needs once the root pre-run finished.
type app struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "face-analysis",
		Short: "Face analysis widget host and command line client",
		Long: `face-analysis normalizes face photos, sends them to a skin-condition
classification service and renders the predictions, product recommendations
and aesthetic tips.

Run "serve" for the HTTP widget host or "analyze" for a one-shot analysis.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			_ = godotenv.Load()

			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file (default $FACE_CONFIG)")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newAnalyzeCmd(a))

	return cmd
}

// controllerDeps wires the components shared by every session.
func (a *app) controllerDeps(previews controller.PreviewStore, publisher controller.Publisher) controller.Dependencies {
	return controller.Dependencies{
		Normalizer: normalizer.New(a.logger),
		Predictor:  prediction.NewClient(a.cfg.Predict.Endpoint, a.cfg.Predict.Timeout, a.logger),
		Tips:       tips.NewHTTPSource(a.cfg.Tips.URL, a.cfg.Tips.Timeout, a.logger),
		Previews:   previews,
		Publisher:  publisher,
		Logger:     a.logger,
	}
}
