package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"controlroom/internal/classify"
	"controlroom/internal/config"
	"controlroom/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and thresholds without reading the store",
	Long: `Load the environment and policy file, validate every threshold rule and
print the effective configuration. A malformed rule exits non-zero, the same
way serve refuses to start.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := classify.NewClassifier(cfg.Policy.Thresholds); err != nil {
		return err
	}
	kind, target, prefix, err := store.ParseLocation(cfg.Store.Location)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "store:            %s %s", kind, redact(kind, target))
	if prefix != "" {
		fmt.Fprintf(out, " (prefix %s)", prefix)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "poll interval:    %s\n", cfg.PollInterval)
	fmt.Fprintf(out, "pass timeout:     %s (read %s, %d parallel)\n", cfg.PassTimeout, cfg.ReadTimeout, cfg.ReadConcurrency)
	fmt.Fprintf(out, "staleness:        %s\n", cfg.Policy.Staleness.Default)
	for _, p := range sortedKeys(cfg.Policy.Staleness.Projects) {
		fmt.Fprintf(out, "  %s: %s\n", p, cfg.Policy.Staleness.Projects[p])
	}
	if len(cfg.Policy.KnownProjects) == 0 {
		fmt.Fprintln(out, "known projects:   any")
	} else {
		fmt.Fprintf(out, "known projects:   %s\n", strings.Join(cfg.Policy.KnownProjects, ", "))
	}
	fmt.Fprintf(out, "assume utc:       %t\n", cfg.Policy.AssumeUTC)
	writeThresholds(cfg, out)
	fmt.Fprintln(out, "ok")
	return nil
}

func writeThresholds(cfg *config.Config, out io.Writer) {
	global := cfg.Policy.Thresholds.Global
	fmt.Fprintf(out, "thresholds:       %d global\n", len(global))
	for _, kpi := range sortedKeys(global) {
		fmt.Fprintf(out, "  %s\n", describeRule(kpi, global[kpi]))
	}
	for _, project := range sortedKeys(cfg.Policy.Thresholds.Projects) {
		override := cfg.Policy.Thresholds.Projects[project]
		fmt.Fprintf(out, "  %s overrides:\n", project)
		for _, kpi := range sortedKeys(override) {
			fmt.Fprintf(out, "    %s\n", describeRule(kpi, override[kpi]))
		}
	}
}

func describeRule(kpi string, r classify.Rule) string {
	op := ">="
	if r.Direction == classify.DirectionBelow {
		op = "<="
	}
	var parts []string
	if r.Warning != nil {
		parts = append(parts, fmt.Sprintf("warning %s %g", op, *r.Warning))
	}
	if r.Critical != nil {
		parts = append(parts, fmt.Sprintf("critical %s %g", op, *r.Critical))
	}
	return kpi + ": " + strings.Join(parts, ", ")
}

func redact(kind store.Kind, target string) string {
	if kind != store.KindPostgres {
		return target
	}
	// Keep the host part only; DSNs carry credentials.
	if at := strings.LastIndex(target, "@"); at >= 0 {
		return "postgres://***@" + target[at+1:]
	}
	return target
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
