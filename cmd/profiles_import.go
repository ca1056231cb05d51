package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence/internal/biometric"
	"github.com/kozaktomas/presence/internal/config"
	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/metrics"
	"github.com/kozaktomas/presence/internal/verification"
)

var profilesImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Bulk-enroll profiles from a JSON or YAML file",
	Long: `Enroll every record of a JSON or YAML file through the duplicate guard.
Records that would duplicate an existing identity are blocked and reported,
exactly as they would be over the API.

The file is either a list of records or a document with a "profiles" list.
Records without an identity_id get a generated one.

Examples:
  # Import from YAML
  presence profiles import employees.yaml

  # Import and print a JSON report
  presence profiles import employees.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runProfilesImport,
}

func init() {
	profilesCmd.AddCommand(profilesImportCmd)

	profilesImportCmd.Flags().Int("concurrency", constants.ImportWorkerPoolSize, "Number of parallel workers validating records")
	profilesImportCmd.Flags().Bool("json", false, "Output as JSON")
}

// ImportIssue describes a record that was not stored.
type ImportIssue struct {
	Record              int    `json:"record"`
	IdentityID          string `json:"identity_id,omitempty"`
	Reason              string `json:"reason"`
	ConflictingIdentity string `json:"conflicting_identity,omitempty"`
}

// ImportResult represents the result of a profiles import
type ImportResult struct {
	Total      int           `json:"total"`
	Enrolled   int           `json:"enrolled"`
	ReEnrolled int           `json:"re_enrolled"`
	Blocked    int           `json:"blocked"`
	Invalid    int           `json:"invalid"`
	Errors     int           `json:"errors"`
	Issues     []ImportIssue `json:"issues,omitempty"`
	DurationMs int64         `json:"duration_ms"`
}

// preparedImport is a validated record ready for the guard.
type preparedImport struct {
	req verification.EnrollRequest
	err error
}

func prepareImport(rec sampleRecord) preparedImport {
	if err := rec.check(); err != nil {
		return preparedImport{req: verification.EnrollRequest{VerificationRequest: rec.request()}, err: err}
	}
	if rec.IdentityID == "" {
		rec.IdentityID = uuid.NewString()
	}
	status := biometric.ApprovalStatus(rec.ApprovalStatus)
	if status == "" {
		status = biometric.ApprovalPending
	}
	return preparedImport{req: verification.EnrollRequest{
		VerificationRequest: rec.request(),
		BiometricEnabled:    rec.BiometricEnabled == nil || *rec.BiometricEnabled,
		ApprovalStatus:      status,
	}}
}

// prepareImports validates records on a pool of workers, keeping file order.
func prepareImports(records []sampleRecord, workers int) []preparedImport {
	if workers < 1 {
		workers = 1
	}
	out := make([]preparedImport, len(records))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = prepareImport(records[i])
			}
		}()
	}
	for i := range records {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// enroller is the part of the verification service an import drives.
type enroller interface {
	Enroll(ctx context.Context, req verification.EnrollRequest) (verification.EnrollResult, error)
}

// importProfiles enrolls prepared records one by one. Each decision must see
// the profiles stored by the records before it.
func importProfiles(ctx context.Context, svc enroller, prepared []preparedImport, progress io.Writer) ImportResult {
	result := ImportResult{Total: len(prepared)}
	bar := progressbar.NewOptions(len(prepared),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("Enrolling profiles"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("profiles"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	for i, p := range prepared {
		issue := ImportIssue{Record: i + 1, IdentityID: p.req.IdentityID}
		switch {
		case p.err != nil:
			result.Invalid++
			issue.Reason = p.err.Error()
			result.Issues = append(result.Issues, issue)
		default:
			res, err := svc.Enroll(ctx, p.req)
			switch {
			case err != nil:
				result.Errors++
				issue.Reason = err.Error()
				result.Issues = append(result.Issues, issue)
			case !res.Allow:
				result.Blocked++
				issue.Reason = string(res.Reason)
				issue.ConflictingIdentity = res.ConflictingIdentity
				result.Issues = append(result.Issues, issue)
			case res.Classification == biometric.ClassReEnrollment:
				result.ReEnrolled++
			default:
				result.Enrolled++
			}
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return result
}

func runProfilesImport(cmd *cobra.Command, args []string) error {
	concurrency := intFlag(cmd, "concurrency")
	jsonOutput := boolFlag(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()
	startTime := time.Now()

	records, err := readImportFile(args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		if jsonOutput {
			return outputJSON(ImportResult{})
		}
		fmt.Println("No records found.")
		return nil
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

	audit, err := database.GetAuditWriter(ctx)
	if err != nil {
		return fmt.Errorf("failed to get audit writer: %w", err)
	}
	svc := newService(cfg, b, audit, metrics.New(false), log)
	prepared := prepareImports(records, concurrency)

	var progress io.Writer = os.Stdout
	if jsonOutput {
		progress = os.Stderr
	}
	result := importProfiles(ctx, svc, prepared, progress)
	result.DurationMs = time.Since(startTime).Milliseconds()

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("\nImport complete!")
	fmt.Printf("  Records:       %d\n", result.Total)
	fmt.Printf("  Enrolled:      %d\n", result.Enrolled)
	fmt.Printf("  Re-enrolled:   %d\n", result.ReEnrolled)
	fmt.Printf("  Blocked:       %d\n", result.Blocked)
	if result.Invalid > 0 {
		fmt.Printf("  Invalid:       %d\n", result.Invalid)
	}
	if result.Errors > 0 {
		fmt.Printf("  Errors:        %d\n", result.Errors)
	}
	fmt.Printf("  Duration:      %s\n", formatDuration(time.Since(startTime)))

	for _, issue := range result.Issues {
		line := fmt.Sprintf("  #%d %s: %s", issue.Record, issue.IdentityID, issue.Reason)
		if issue.ConflictingIdentity != "" {
			line += " (matches " + issue.ConflictingIdentity + ")"
		}
		fmt.Println(line)
	}
	return nil
}
