package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"controlroom/internal/export"
	"controlroom/internal/snapshot"
)

var (
	discoverFormat string
	discoverReport bool
	discoverFailOn string
	discoverAudit  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery pass and print the consolidated view",
	Long: `Run a single discovery pass against the store and write the export to
stdout. Rejected and unavailable artifacts are reported on stderr.

Exit status is non-zero when the pass fails or, with --fail-on, when the
overall status reaches the given severity.

Examples:
  controlroom discover --format markdown
  controlroom discover --report
  controlroom discover --fail-on critical`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().StringVarP(&discoverFormat, "format", "f", "json", "Export format: json or markdown")
	discoverCmd.Flags().BoolVar(&discoverReport, "report", false, "Print the pass report instead of the view")
	discoverCmd.Flags().StringVar(&discoverFailOn, "fail-on", "", "Exit 2 when overall status is at least this severity (warning or critical)")
	discoverCmd.Flags().BoolVar(&discoverAudit, "audit", false, "Append the pass to the audit trail")
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	format, err := export.ParseFormat(discoverFormat)
	if err != nil {
		return err
	}
	var threshold snapshot.Status
	if discoverFailOn != "" {
		st, ok := snapshot.ParseStatus(discoverFailOn)
		if !ok {
			return fmt.Errorf("--fail-on: unknown status %q", discoverFailOn)
		}
		threshold = st
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{withAudit: discoverAudit})
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.svc.Discover(cmd.Context())
	for _, r := range report.Rejected {
		fmt.Fprintf(os.Stderr, "rejected %s: %s\n", r.Ref.Key, r.Reason)
	}
	for _, u := range report.Unavailable {
		fmt.Fprintf(os.Stderr, "unavailable %s: %s\n", u.Key, u.Reason)
	}
	if err != nil {
		return fmt.Errorf("discovery pass failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if discoverReport {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		view := a.svc.CurrentView()
		body, err := export.Export(view, string(format))
		if err != nil {
			return err
		}
		if _, err := out.Write(body); err != nil {
			return err
		}
	}

	if threshold != "" && a.svc.CurrentView().Overall().Severity() >= threshold.Severity() {
		a.close()
		os.Exit(2)
	}
	return nil
}
