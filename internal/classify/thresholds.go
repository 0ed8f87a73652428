package classify

import (
	"math"
	"sort"
	"strings"

	"controlroom/internal/snapshot"
)

type Direction string

const (
	// DirectionAbove breaches when the KPI value is at or above the bound.
	DirectionAbove Direction = "above"
	// DirectionBelow breaches when the KPI value is at or below the bound.
	DirectionBelow Direction = "below"
)

// Rule holds per-severity numeric boundaries for one KPI.
type Rule struct {
	Warning   *float64  `yaml:"warning,omitempty" json:"warning,omitempty"`
	Critical  *float64  `yaml:"critical,omitempty" json:"critical,omitempty"`
	Direction Direction `yaml:"direction,omitempty" json:"direction,omitempty"`
}

func (r Rule) direction() Direction {
	if r.Direction == "" {
		return DirectionAbove
	}
	return r.Direction
}

// Thresholds maps KPI name to its rule.
type Thresholds map[string]Rule

// Policy is the global rule set plus per-project overrides. An override
// replaces the global rule for the same KPI.
type Policy struct {
	Global   Thresholds
	Projects map[string]Thresholds
}

// For returns the effective thresholds for a project.
func (p Policy) For(project string) Thresholds {
	override := p.Projects[project]
	if len(override) == 0 {
		return p.Global
	}
	out := make(Thresholds, len(p.Global)+len(override))
	for k, r := range p.Global {
		out[k] = r
	}
	for k, r := range override {
		out[k] = r
	}
	return out
}

// Validate rejects rule sets that would misclassify health.
func (p Policy) Validate() error {
	if err := p.Global.validate(""); err != nil {
		return err
	}
	projects := make([]string, 0, len(p.Projects))
	for name := range p.Projects {
		projects = append(projects, name)
	}
	sort.Strings(projects)
	for _, name := range projects {
		if strings.TrimSpace(name) == "" {
			return &snapshot.ClassificationConfigError{Reason: "project override with empty name"}
		}
		if err := p.Projects[name].validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (t Thresholds) validate(project string) error {
	names := make([]string, 0, len(t))
	for k := range t {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, kpi := range names {
		r := t[kpi]
		fail := func(reason string) error {
			return &snapshot.ClassificationConfigError{Project: project, KPI: kpi, Reason: reason}
		}
		if strings.TrimSpace(kpi) == "" {
			return fail("empty kpi name")
		}
		if r.Warning == nil && r.Critical == nil {
			return fail("rule has neither warning nor critical bound")
		}
		if r.Warning != nil && !finite(*r.Warning) {
			return fail("warning bound is not a finite number")
		}
		if r.Critical != nil && !finite(*r.Critical) {
			return fail("critical bound is not a finite number")
		}
		switch r.direction() {
		case DirectionAbove:
			if r.Warning != nil && r.Critical != nil && *r.Warning > *r.Critical {
				return fail("warning bound above critical bound for direction above")
			}
		case DirectionBelow:
			if r.Warning != nil && r.Critical != nil && *r.Warning < *r.Critical {
				return fail("warning bound below critical bound for direction below")
			}
		default:
			return fail("unknown direction " + string(r.Direction))
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Bound is a helper for building rules in code.
func Bound(f float64) *float64 { return &f }
