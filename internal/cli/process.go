package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dunamismax/pixelvariants/internal/app"
	"github.com/dunamismax/pixelvariants/internal/config"
	"github.com/dunamismax/pixelvariants/internal/domain"
	"github.com/dunamismax/pixelvariants/internal/ingest"
	"github.com/dunamismax/pixelvariants/internal/logging"
	"github.com/dunamismax/pixelvariants/internal/pipeline"
	"github.com/dunamismax/pixelvariants/internal/store"
	"github.com/spf13/cobra"
)

type processOptions struct {
	outDir           string
	maxDimension     int
	watermark        bool
	watermarkText    string
	watermarkOpacity int
	logLevel         string
	jsonOutput       bool
}

func newProcessCmd() *cobra.Command {
	defaults := config.Load()
	opts := processOptions{
		outDir:           "./variants",
		maxDimension:     defaults.Pipeline.MaxDimension,
		watermark:        defaults.Pipeline.WatermarkEnabled,
		watermarkText:    defaults.Pipeline.WatermarkText,
		watermarkOpacity: defaults.Pipeline.WatermarkOpacity,
		logLevel:         "warn",
	}

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Process a local image into variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, args[0], defaults.Pipeline, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outDir, "out", "o", opts.outDir, "Directory the artifacts are written to")
	flags.IntVar(&opts.maxDimension, "max-dimension", opts.maxDimension, "Longest allowed edge in pixels")
	flags.BoolVar(&opts.watermark, "watermark", opts.watermark, "Stamp the watermark text")
	flags.StringVar(&opts.watermarkText, "watermark-text", opts.watermarkText, "Watermark text")
	flags.IntVar(&opts.watermarkOpacity, "watermark-opacity", opts.watermarkOpacity, "Watermark opacity (0-255)")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the run as JSON")
	return cmd
}

func runProcess(cmd *cobra.Command, file string, base config.PipelineConfig, opts processOptions) error {
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), opts.logLevel, "pixelvariants-cli")

	base.MaxDimension = opts.maxDimension
	base.WatermarkEnabled = opts.watermark
	base.WatermarkText = opts.watermarkText
	base.WatermarkOpacity = opts.watermarkOpacity

	if err := pipeline.Startup(); err != nil {
		return err
	}
	defer pipeline.Shutdown()

	processor, err := app.NewProcessor(base, logger, nil)
	if err != nil {
		return err
	}
	svc, err := ingest.NewService(ingest.Deps{
		Fetcher:   ingest.LocalFileFetcher{},
		Processor: processor,
		Emitter:   ingest.LocalFileEmitter{OutputDir: opts.outDir},
		Runs:      store.NewMemoryRunStore(),
		Config:    base.ToPipeline(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	result, err := svc.Run(cmd.Context(), ingest.Source{Key: file, Trigger: domain.TriggerCLI})
	if err != nil {
		return fmt.Errorf("process %s: %w", file, err)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result.Run)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tFORMAT\tSIZE\tBYTES\tPATH")
	for _, o := range result.Outputs {
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%d\t%s\n", o.Label, o.Format, o.Width, o.Height, o.Bytes, o.Location)
	}
	return tw.Flush()
}
