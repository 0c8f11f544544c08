package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/pipeline"
	"github.com/sells-group/ticket-geocoder/internal/tickets"
)

var (
	runInput  string
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Geocode a ticket batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate cache store")
		}

		batch, err := tickets.Load(runInput)
		if err != nil {
			return err
		}

		runners, err := buildRunners(st)
		if err != nil {
			return err
		}

		outputDir := cfg.Pipeline.OutputDir
		if runOutput != "" {
			outputDir = runOutput
		}

		p := pipeline.New(pipeline.Config{
			FailFast:         cfg.Pipeline.FailFast,
			SaveIntermediate: cfg.Pipeline.SaveIntermediate,
			OutputDir:        outputDir,
		}, st, runners...)

		outcome, runErr := p.Run(ctx, batch.Tickets)
		if outcome == nil {
			return runErr
		}

		if err := pipeline.Export(outputDir, outcome); err != nil {
			return err
		}
		zap.L().Info("results exported",
			zap.String("dir", outputDir),
			zap.String("run_id", outcome.Summary.PipelineID))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome.Summary); err != nil {
			return eris.Wrap(err, "encode summary")
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "ticket batch file, .xlsx or .csv (required)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output directory (defaults to pipeline.output_dir)")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
