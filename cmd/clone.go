package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

const cliCaller = "cli"

type cloneFlags struct {
	out      string
	dynamic  bool
	noAssets bool
	mode     string
	strategy string
	analyze  []string
}

// newCloneCmd creates the 'clone' subcommand, which runs one clone in the
// foreground and writes the finished document.
func newCloneCmd() *cobra.Command {
	var f cloneFlags
	cmd := &cobra.Command{
		Use:   "clone <url>",
		Short: "Clone one page and write the self-contained document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloneCommand(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the document to this file instead of stdout")
	cmd.Flags().BoolVar(&f.dynamic, "dynamic", false, "render the page in headless Chrome")
	cmd.Flags().BoolVar(&f.noAssets, "no-assets", false, "skip asset download and embedding")
	cmd.Flags().StringVar(&f.mode, "mode", "", "capture mode: responsive, interactive, animations, style-analysis, navigation")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "force an acquisition strategy: static, rendered, structured")
	cmd.Flags().StringSliceVar(&f.analyze, "analyze", nil, "analyzers to run: performance, seo, security, technology")
	cmd.Flags().Bool(allowPrivateFlag, false, "allow loopback and private-network targets")
	return cmd
}

// options translates command flags into clone options.
func (f cloneFlags) options() (cloner.Options, error) {
	opts := cloner.Options{
		IncludeAssets:        !f.noAssets,
		UseBrowserAutomation: f.dynamic,
		Strategy:             cloner.Strategy(strings.ToLower(strings.TrimSpace(f.strategy))),
	}
	if err := opts.ParseMode(f.mode); err != nil {
		return opts, err
	}
	for _, name := range f.analyze {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "performance":
			opts.PerformanceAnalysis = true
		case "seo":
			opts.SEOAnalysis = true
		case "security":
			opts.SecurityScan = true
		case "technology", "tech":
			opts.TechnologyDetection = true
		default:
			return opts, &cloner.ValidationError{Field: "analyze", Reason: "unknown analyzer " + name}
		}
	}
	return opts, opts.Validate()
}

func runCloneCommand(cmd *cobra.Command, target string, f cloneFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger

	opts, err := f.options()
	if err != nil {
		return err
	}
	opts.OnProgress = func(percent int, step string) {
		logger.Info("progress", zap.Int("percent", percent), zap.String("step", step))
	}

	run, err := a.Pipeline.Clone(cmd.Context(), cliCaller, target, opts)
	if err != nil {
		return fmt.Errorf("clone %s: %w", target, err)
	}
	for _, entry := range run.Logs {
		if entry.Level == cloner.LevelWarn {
			logger.Warn(entry.Message, zap.String("run_id", run.ID))
		}
	}

	if err := writeDocument(cmd.OutOrStdout(), f.out, run.Document); err != nil {
		return err
	}
	logger.Info("clone finished",
		zap.String("run_id", run.ID),
		zap.String("title", run.Metadata.Title),
		zap.Int("assets", run.Metadata.AssetCount),
		zap.Int64("total_size", run.Metadata.TotalSize),
		zap.String("strategy", string(run.Metadata.Strategy)),
		zap.String("export_uri", run.ExportURI),
	)
	return nil
}

func writeDocument(stdout io.Writer, path, doc string) error {
	if path == "" {
		if _, err := io.WriteString(stdout, doc); err != nil {
			return fmt.Errorf("write document: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}
