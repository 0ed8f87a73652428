package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"controlroom/internal/snapshot"
)

const maxBreaches = 5

var statusBadge = map[snapshot.Status]string{
	snapshot.StatusOK:       "🟢 ok",
	snapshot.StatusWarning:  "🟠 warning",
	snapshot.StatusCritical: "🔴 critical",
}

func badge(s snapshot.Status) string {
	if b, ok := statusBadge[s]; ok {
		return b
	}
	return string(s)
}

// Markdown renders the human summary. now only feeds relative ages.
func Markdown(view *snapshot.ConsolidatedView, now time.Time) []byte {
	var b bytes.Buffer
	counts := view.StatusCounts()

	b.WriteString("# Snapshot Control Room\n\n")
	fmt.Fprintf(&b, "Generated %s", view.GeneratedAt.UTC().Format(time.RFC3339))
	if view.PassID != "" {
		fmt.Fprintf(&b, " (pass `%s`)", view.PassID)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Overall: **%s**. %s projects: %s ok, %s warning, %s critical, %s stale, %s unknown.\n",
		badge(view.Overall()),
		humanize.Comma(int64(len(view.Entries))),
		humanize.Comma(int64(counts[snapshot.StatusOK])),
		humanize.Comma(int64(counts[snapshot.StatusWarning])),
		humanize.Comma(int64(counts[snapshot.StatusCritical])),
		humanize.Comma(int64(len(view.StaleProjects))),
		humanize.Comma(int64(len(view.UnknownProjects))),
	)

	for _, p := range view.Projects() {
		writeProject(&b, view.Entries[p], view.IsStale(p), now)
	}

	if len(view.UnknownProjects) > 0 {
		b.WriteString("\n## Unknown projects\n\n")
		for _, p := range view.UnknownProjects {
			fmt.Fprintf(&b, "- %s: no valid snapshot observed\n", p)
		}
	}
	return b.Bytes()
}

func writeProject(b *bytes.Buffer, s snapshot.Snapshot, stale bool, now time.Time) {
	fmt.Fprintf(b, "\n## %s\n\n", s.Project)
	fmt.Fprintf(b, "- Status: **%s**", badge(s.Status))
	if s.DeclaredStatus != "" && s.DeclaredStatus != s.Status {
		fmt.Fprintf(b, " (declared %s)", s.DeclaredStatus)
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "- Snapshot: %s (%s)\n",
		s.Timestamp.UTC().Format(time.RFC3339), humanize.RelTime(s.Timestamp, now, "ago", "from now"))
	if stale {
		b.WriteString("- **STALE**: snapshot is older than the freshness window\n")
	}
	if s.Summary != "" {
		fmt.Fprintf(b, "- Summary: %s\n", oneLine(s.Summary))
	}

	if names := s.KPINames(); len(names) > 0 {
		b.WriteString("\n| KPI | Value |\n|---|---|\n")
		for _, k := range names {
			fmt.Fprintf(b, "| %s | %s |\n", cell(k), cell(kpiText(s.KPIs[k])))
		}
	}

	if len(s.Breaches) > 0 {
		b.WriteString("\nTop drivers:\n\n")
		for i, br := range s.Breaches {
			if i == maxBreaches {
				fmt.Fprintf(b, "- ... and %d more\n", len(s.Breaches)-maxBreaches)
				break
			}
			op := ">="
			if br.Direction == "below" {
				op = "<="
			}
			fmt.Fprintf(b, "- %s: %s %s %s (%s)\n",
				br.KPI, humanize.Ftoa(br.Value), op, humanize.Ftoa(br.Bound), br.Severity)
		}
	}

	for _, w := range s.Warnings {
		fmt.Fprintf(b, "\n> warning: %s\n", oneLine(w))
	}
}

func kpiText(v snapshot.Value) string {
	if f, ok := v.Float(); ok && v.Kind() == snapshot.KindNumber {
		if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
			return humanize.Comma(int64(f))
		}
		return humanize.CommafWithDigits(f, 4)
	}
	return v.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}
