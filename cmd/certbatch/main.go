package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/youruser/certbatch/internal/config"
	"github.com/youruser/certbatch/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "certbatch",
	Short: "Batch certificate generator",
	Long: `certbatch reads a roster (CSV, TSV, XLSX or a PDF table), matches every
row to a photo from an archive, a folder or a shared link, and renders one
certificate image per row from an SVG template.

The pipeline can run in one step (run) or in two (ingest, then render) so
that rendering can be retried against the same resolved records.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.GetEnv("CERTBATCH_CONFIG", ""), "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	addIngestFlags(ingestCmd)
	ingestCmd.Flags().StringVar(&runDir, "run-dir", "", "Run directory to write records into (default: new run under runs.root)")

	renderCmd.Flags().StringVar(&runDir, "run-dir", "", "Run directory holding records.json (required)")
	_ = renderCmd.MarkFlagRequired("run-dir")
	addRenderFlags(renderCmd)

	addIngestFlags(runCmd)
	addRenderFlags(runCmd)
	runCmd.Flags().StringVar(&runDir, "run-dir", "", "Run directory (default: new run under runs.root)")
	runCmd.Flags().BoolVar(&packZip, "zip", true, "Package certificates as a zip archive")
	runCmd.Flags().BoolVar(&packPDF, "pdf", false, "Package certificates as a multi-page PDF")
	runCmd.Flags().BoolVar(&publishRun, "publish", false, "Upload the zip archive to storage.bucket")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
