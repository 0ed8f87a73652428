package snapshot

import (
	"sort"
	"time"
)

// SourceRef points back at the raw artifact a snapshot was read from. It is
// kept for audit and export only and never participates in identity.
type SourceRef struct {
	Store   string    `json:"store"`
	Key     string    `json:"key"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"modTime,omitempty"`
}

// Breach explains one threshold crossing found by the classifier.
type Breach struct {
	KPI       string  `json:"kpi"`
	Value     float64 `json:"value"`
	Bound     float64 `json:"bound"`
	Severity  Status  `json:"severity"`
	Direction string  `json:"direction"`
	Delta     float64 `json:"delta"`
}

// Snapshot is the canonical, post-normalization form of one producer artifact.
type Snapshot struct {
	Project        string           `json:"project"`
	Timestamp      time.Time        `json:"timestamp"`
	Status         Status           `json:"status"`
	DeclaredStatus Status           `json:"declaredStatus"`
	KPIs           map[string]Value `json:"kpis"`
	Payload        map[string]Value `json:"payload"`
	Summary        string           `json:"summary"`
	SourceRef      SourceRef        `json:"sourceRef"`
	Warnings       []string         `json:"warnings,omitempty"`
	Breaches       []Breach         `json:"breaches,omitempty"`
}

// KPINames returns the KPI keys in lexical order.
func (s Snapshot) KPINames() []string {
	names := make([]string, 0, len(s.KPIs))
	for k := range s.KPIs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ConsolidatedView is the latest-per-project aggregate. A published view is
// never mutated; a new pass builds and publishes a new one.
type ConsolidatedView struct {
	Entries         map[string]Snapshot
	GeneratedAt     time.Time
	StaleProjects   []string
	UnknownProjects []string
	PassID          string
}

// EmptyView is the view served before the first successful discovery pass.
func EmptyView(unknown []string) *ConsolidatedView {
	return &ConsolidatedView{
		Entries:         map[string]Snapshot{},
		UnknownProjects: append([]string(nil), unknown...),
	}
}

// Projects returns the projects with a current snapshot, sorted.
func (v *ConsolidatedView) Projects() []string {
	if v == nil {
		return nil
	}
	out := make([]string, 0, len(v.Entries))
	for p := range v.Entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (v *ConsolidatedView) IsStale(project string) bool {
	if v == nil {
		return false
	}
	i := sort.SearchStrings(v.StaleProjects, project)
	return i < len(v.StaleProjects) && v.StaleProjects[i] == project
}

// StatusCounts tallies current statuses across entries.
func (v *ConsolidatedView) StatusCounts() map[Status]int {
	counts := map[Status]int{StatusOK: 0, StatusWarning: 0, StatusCritical: 0}
	if v == nil {
		return counts
	}
	for _, s := range v.Entries {
		counts[s.Status]++
	}
	return counts
}

// Overall is the worst status across all current entries.
func (v *ConsolidatedView) Overall() Status {
	overall := StatusOK
	if v == nil {
		return overall
	}
	for _, s := range v.Entries {
		overall = MaxStatus(overall, s.Status)
	}
	return overall
}
