package controlroom

import (
	"time"

	"controlroom/internal/snapshot"
)

// UnavailableArtifact is an artifact skipped this pass and retried next pass.
type UnavailableArtifact struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// PassReport summarizes one discovery pass. Per-artifact failures are
// collected here rather than failing the pass.
type PassReport struct {
	ID          string                 `json:"id"`
	StartedAt   time.Time              `json:"startedAt"`
	FinishedAt  time.Time              `json:"finishedAt"`
	Listed      int                    `json:"listed"`
	Accepted    int                    `json:"accepted"`
	Unavailable []UnavailableArtifact  `json:"unavailable"`
	Rejected    []snapshot.SchemaError `json:"rejected"`
	Err         string                 `json:"error,omitempty"`
}

func (r PassReport) OK() bool { return r.Err == "" && !r.StartedAt.IsZero() }

func (r PassReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status is the operator-facing health of the discovery loop itself.
type Status struct {
	LastPass            *PassReport `json:"lastPass,omitempty"`
	LastSuccess         time.Time   `json:"lastSuccess,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	Passes              int         `json:"passes"`
	Store               string      `json:"store"`
}
