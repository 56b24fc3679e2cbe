package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notescrub/notescrub/internal/config"
	"github.com/notescrub/notescrub/internal/dates"
	"github.com/notescrub/notescrub/internal/merge"
	"github.com/notescrub/notescrub/internal/redact"
)

var (
	redactAnchor    string
	redactMode      string
	redactThreshold float64
	redactProtect   bool
	redactNoDates   bool
	redactModelWait time.Duration
)

var redactCmd = &cobra.Command{
	Use:   "redact [file]",
	Short: "Redact a clinical note (reads stdin when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRedact(args)
	},
}

func init() {
	redactCmd.Flags().StringVar(&redactAnchor, "anchor", "", "anchor date (YYYY-MM-DD) for relative date tokens")
	redactCmd.Flags().StringVar(&redactMode, "mode", "", "merge mode: union or best_of (default from config)")
	redactCmd.Flags().Float64Var(&redactThreshold, "threshold", -1, "confidence threshold override")
	redactCmd.Flags().BoolVar(&redactProtect, "protect-providers", false, "exclude provider-name spans from redaction")
	redactCmd.Flags().BoolVar(&redactNoDates, "no-date-translation", false, "use generic markers for dates instead of offset tokens")
	redactCmd.Flags().DurationVar(&redactModelWait, "model-wait", 30*time.Second, "how long to wait for the probabilistic detector")
}

func runRedact(args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	// Keep stdout clean for the redacted text.
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "console"

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	pipeline, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}

	policy := merge.Policy{
		Mode:                merge.Mode(cfg.Detection.MergeMode),
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		ProtectProviders:    cfg.Detection.ProtectProviders || redactProtect,
	}
	if redactMode != "" {
		policy.Mode = merge.Mode(redactMode)
	}
	if redactThreshold >= 0 {
		policy.ConfidenceThreshold = redactThreshold
	}

	opts := redact.Options{TranslateDates: !redactNoDates}
	if redactAnchor != "" {
		anchor, err := dates.ParseISO(redactAnchor)
		if err != nil {
			return err
		}
		opts.Anchor = &anchor
	}

	sess := pipeline.RunDetection(text, policy)
	ctx, cancel := context.WithTimeout(context.Background(), redactModelWait)
	defer cancel()
	_ = sess.Wait(ctx)

	result := sess.FinalizeAndRedact(opts)
	fmt.Println(result.Text)

	if scan := pipeline.ScanForLeaks(result.Text); scan.Count > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d residual date-like fragment(s) remain; do not submit\n", scan.Count)
		os.Exit(1)
	}
	return nil
}

func readInput(args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
