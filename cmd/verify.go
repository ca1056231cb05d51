package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence/internal/config"
	"github.com/kozaktomas/presence/internal/metrics"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Run a login decision for a sample file",
	Long: `Run a login decision for the face sample in a JSON or YAML file against the
live population and print it. The decision is not recorded in the audit trail.

Unlike the API, the best candidate is printed for rejections too.

Examples:
  presence verify sample.json
  presence verify sample.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	jsonOutput := boolFlag(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()

	sample, err := readSample(args[0])
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	svc := newService(cfg, b, nil, metrics.New(false), log)
	res, err := svc.Login(ctx, sample.request())
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(res)
	}

	lang := cfg.Biometric.DefaultLanguage
	if res.Accepted {
		fmt.Printf("ACCEPTED  %s\n", res.IdentityID())
		fmt.Printf("  Message:     %s\n", cfg.Message(lang, "accepted"))
	} else {
		fmt.Printf("REJECTED  %s\n", res.Reason)
		fmt.Printf("  Message:     %s\n", cfg.Message(lang, string(res.Reason)))
	}
	if res.Match != nil {
		fmt.Printf("  Candidate:   %s\n", res.Match.IdentityID)
		fmt.Printf("  Signal:      %s\n", res.Match.Signal)
		fmt.Printf("  Similarity:  %.4f\n", res.Match.Similarity)
	}
	fmt.Printf("  Scanned:     %d\n", res.Scanned)
	return nil
}
