package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/controller"
	"github.com/example/face-analysis/internal/events"
	"github.com/example/face-analysis/internal/normalizer"
	"github.com/example/face-analysis/internal/preview"
)

type analyzeOptions struct {
	camera   bool
	withTips bool
	asJSON   bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	opts := analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze one face photo and print the predictions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.analyze(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.camera, "camera", false, "treat the image as a camera capture")
	cmd.Flags().BoolVar(&opts.withTips, "tips", false, "also show aesthetic tips")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the view as JSON")

	return cmd
}

func (a *app) analyze(cmd *cobra.Command, path string, opts analyzeOptions) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	origin := normalizer.OriginPicker
	if opts.camera {
		origin = normalizer.OriginCamera
	}

	previews := preview.NewStore(preview.DefaultPrefix)
	hub := events.NewHub[controller.View]()
	ctrl := controller.New("cli", a.controllerDeps(previews, hub))
	defer ctrl.Close()

	views, cancel := hub.Watch(ctrl.ID(), 4)
	defer cancel()
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		reportProgress(cmd.ErrOrStderr(), views, opts.asJSON)
	}()

	err = ctrl.SelectImage(ctx, normalizer.SourceImage{
		Data:     data,
		MIMEType: http.DetectContentType(data),
		Filename: filepath.Base(path),
		Origin:   origin,
	})
	if err != nil {
		cancel()
		<-progressDone
		return err
	}

	submitErr := ctrl.Submit(ctx)
	if submitErr != nil {
		a.logger.Warn("prediction unavailable", zap.Error(submitErr))
	}

	var tipsErr error
	if opts.withTips {
		tipsErr = ctrl.RequestTips(ctx)
		if tipsErr != nil {
			a.logger.Warn("tips unavailable", zap.Error(tipsErr))
		}
	}

	cancel()
	<-progressDone

	view := ctrl.View()
	if opts.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			return err
		}
	} else if err := writeView(cmd.OutOrStdout(), view); err != nil {
		return err
	}

	return errors.Join(submitErr, tipsErr)
}

func reportProgress(w io.Writer, views <-chan controller.View, quiet bool) {
	for view := range views {
		if quiet {
			continue
		}
		if view.Loading {
			fmt.Fprintln(w, view.SubmitLabel)
		}
	}
}

func writeView(w io.Writer, view controller.View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	switch {
	case !view.HasPrediction:
		fmt.Fprintln(tw, "No prediction available.")
	case len(view.Predictions) == 0:
		fmt.Fprintln(tw, "No condition above the reporting threshold.")
	default:
		fmt.Fprintln(tw, "CONDITION\tPROBABILITY\tRECOMMENDATIONS")
		for _, row := range view.Predictions {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Condition, row.Percentage, recommendationSummary(row))
		}
	}

	if panel := view.Tips; panel != nil {
		fmt.Fprintf(tw, "\nAESTHETIC TIPS (%d/%d)\n", panel.Cursor, panel.Total)
		for _, tip := range panel.Tips {
			fmt.Fprintf(tw, "%s\t%s\n", tip.Title, tip.Description)
			for _, p := range tip.Products {
				fmt.Fprintf(tw, "  - %s\t%s\n", p.Name, p.URL)
			}
		}
	}
	return tw.Flush()
}

func recommendationSummary(row controller.PredictionRow) string {
	if row.NoRecommendation {
		return "No recommendation"
	}
	names := make([]string, 0, len(row.Recommendations))
	for _, rec := range row.Recommendations {
		names = append(names, rec.ProductName)
	}
	return strings.Join(names, ", ")
}
