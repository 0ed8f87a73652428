// Package classify derives a project's overall health from its declared status
// and KPI thresholds. The rule is deterministic and can only escalate: a
// breached threshold raises severity, nothing ever lowers it.
package classify

import (
	"math"
	"sort"

	"controlroom/internal/snapshot"
)

type Classifier struct {
	policy Policy
}

// NewClassifier validates the policy up front; a malformed policy is a
// *snapshot.ClassificationConfigError.
func NewClassifier(p Policy) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{policy: p}, nil
}

func (c *Classifier) Policy() Policy { return c.policy }

func (c *Classifier) Classify(s snapshot.Snapshot) snapshot.Snapshot {
	return Classify(s, c.policy.For(s.Project))
}

// Classify annotates s with the breaches of t and escalates its status to the
// worst of the declared status and every breach.
func Classify(s snapshot.Snapshot, t Thresholds) snapshot.Snapshot {
	breaches := evaluate(s.KPIs, t)
	out := s
	out.Breaches = breaches
	status := s.Status
	if !status.Valid() {
		status = snapshot.StatusCritical
	}
	for _, b := range breaches {
		status = snapshot.MaxStatus(status, b.Severity)
	}
	out.Status = status
	return out
}

func evaluate(kpis map[string]snapshot.Value, t Thresholds) []snapshot.Breach {
	if len(kpis) == 0 || len(t) == 0 {
		return nil
	}
	var breaches []snapshot.Breach
	for name, rule := range t {
		v, ok := kpis[name]
		if !ok {
			continue
		}
		value, ok := v.Float()
		if !ok {
			continue
		}
		if b, hit := check(name, value, rule.Critical, snapshot.StatusCritical, rule.direction()); hit {
			breaches = append(breaches, b)
			continue
		}
		if b, hit := check(name, value, rule.Warning, snapshot.StatusWarning, rule.direction()); hit {
			breaches = append(breaches, b)
		}
	}
	sort.Slice(breaches, func(i, j int) bool {
		a, b := breaches[i], breaches[j]
		if a.Severity.Severity() != b.Severity.Severity() {
			return a.Severity.Severity() > b.Severity.Severity()
		}
		if math.Abs(a.Delta) != math.Abs(b.Delta) {
			return math.Abs(a.Delta) > math.Abs(b.Delta)
		}
		return a.KPI < b.KPI
	})
	return breaches
}

func check(name string, value float64, bound *float64, severity snapshot.Status, dir Direction) (snapshot.Breach, bool) {
	if bound == nil {
		return snapshot.Breach{}, false
	}
	var hit bool
	var delta float64
	switch dir {
	case DirectionBelow:
		hit = value <= *bound
		delta = *bound - value
	default:
		hit = value >= *bound
		delta = value - *bound
	}
	if !hit {
		return snapshot.Breach{}, false
	}
	return snapshot.Breach{
		KPI:       name,
		Value:     value,
		Bound:     *bound,
		Severity:  severity,
		Direction: string(dir),
		Delta:     delta,
	}, true
}
