package normalize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"controlroom/internal/snapshot"
	"controlroom/internal/validate"
)

// Options tune how producer vocabularies map onto the canonical model.
type Options struct {
	// KnownProjects restricts accepted project identities. Empty accepts any.
	KnownProjects []string
	// StatusAliases maps extra producer status words onto canonical statuses.
	StatusAliases map[string]snapshot.Status
	// AssumeUTC accepts timestamps without an offset and reads them as UTC.
	AssumeUTC bool
}

type Normalizer struct {
	known     map[string]struct{}
	aliases   map[string]snapshot.Status
	assumeUTC bool
}

var contractKeys = map[string]struct{}{
	"project":   {},
	"timestamp": {},
	"status":    {},
	"kpis":      {},
	"payload":   {},
	"summary":   {},
}

func New(opts Options) *Normalizer {
	n := &Normalizer{
		known:     make(map[string]struct{}, len(opts.KnownProjects)),
		aliases:   make(map[string]snapshot.Status, len(opts.StatusAliases)),
		assumeUTC: opts.AssumeUTC,
	}
	for _, p := range opts.KnownProjects {
		if p = strings.TrimSpace(p); p != "" {
			n.known[p] = struct{}{}
		}
	}
	for word, st := range opts.StatusAliases {
		n.aliases[strings.ToLower(strings.TrimSpace(word))] = st
	}
	return n
}

// Normalize maps a validated artifact onto the canonical Snapshot. It is pure:
// the same artifact always yields the same Snapshot.
func (n *Normalizer) Normalize(a *validate.ValidatedArtifact) (snapshot.Snapshot, error) {
	if a == nil {
		return snapshot.Snapshot{}, fmt.Errorf("artifact is nil")
	}
	project := strings.TrimSpace(a.String("project"))
	if project == "" {
		return snapshot.Snapshot{}, fieldErr(a, "project is empty", "")
	}
	if len(n.known) > 0 {
		if _, ok := n.known[project]; !ok {
			return snapshot.Snapshot{}, fieldErr(a, fmt.Sprintf("unknown project %q", project), project)
		}
	}

	rawTS := a.String("timestamp")
	ts, err := ParseTimestamp(rawTS, n.assumeUTC)
	if err != nil {
		return snapshot.Snapshot{}, fieldErr(a, err.Error(), rawTS)
	}

	var warnings []string
	status, ok := n.status(a.String("status"))
	if !ok {
		warnings = append(warnings, fmt.Sprintf("unrecognized status %q mapped to critical", a.String("status")))
	}

	kpis, err := snapshot.MapFromAny(a.Object("kpis"))
	if err != nil {
		return snapshot.Snapshot{}, fieldErr(a, "kpis: "+err.Error(), "")
	}
	payload, err := snapshot.MapFromAny(a.Object("payload"))
	if err != nil {
		return snapshot.Snapshot{}, fieldErr(a, "payload: "+err.Error(), "")
	}
	if err := foldExtras(a.Fields, payload); err != nil {
		return snapshot.Snapshot{}, fieldErr(a, err.Error(), "")
	}

	return snapshot.Snapshot{
		Project:        project,
		Timestamp:      ts,
		Status:         status,
		DeclaredStatus: status,
		KPIs:           kpis,
		Payload:        payload,
		Summary:        a.String("summary"),
		SourceRef:      a.Ref,
		Warnings:       warnings,
	}, nil
}

func (n *Normalizer) status(raw string) (snapshot.Status, bool) {
	if st, ok := snapshot.ParseStatus(raw); ok {
		return st, true
	}
	if st, ok := n.aliases[strings.ToLower(strings.TrimSpace(raw))]; ok && st.Valid() {
		return st, true
	}
	return snapshot.StatusCritical, false
}

// foldExtras moves top-level keys outside the contract into payload. A key
// already present in payload is kept and the extra lands under the name
// prefixed with underscores until it is unique.
func foldExtras(fields map[string]any, payload map[string]snapshot.Value) error {
	extras := make([]string, 0, len(fields))
	for k := range fields {
		if _, ok := contractKeys[k]; !ok {
			extras = append(extras, k)
		}
	}
	// Sorted so collision renames are stable.
	sort.Strings(extras)
	for _, k := range extras {
		v, err := snapshot.FromAny(fields[k])
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		name := k
		for {
			if _, taken := payload[name]; !taken {
				break
			}
			name = "_" + name
		}
		payload[name] = v
	}
	return nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp accepts RFC 3339 instants with an explicit offset. With
// assumeUTC, offset-less date-times are read as UTC. Date-only and other
// layouts are rejected as ambiguous. The result is always in UTC.
func ParseTimestamp(raw string, assumeUTC bool) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if assumeUTC {
		for _, layout := range naiveLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not an RFC 3339 instant with offset", s)
}

func fieldErr(a *validate.ValidatedArtifact, reason, excerpt string) *snapshot.SchemaError {
	return &snapshot.SchemaError{Ref: a.Ref, Reason: reason, RawExcerpt: excerpt}
}
