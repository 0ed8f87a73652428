package snapshot

import "strings"

// Status is the health severity of a project.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Severity orders statuses ok < warning < critical. Unknown values rank as
// critical so comparisons stay fail-safe.
func (s Status) Severity() int {
	switch s {
	case StatusOK:
		return 0
	case StatusWarning:
		return 1
	default:
		return 2
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusWarning, StatusCritical:
		return true
	}
	return false
}

// ParseStatus accepts the three canonical names in any case.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return StatusCritical, false
	}
	return s, true
}

// MaxStatus returns the more severe of a and b.
func MaxStatus(a, b Status) Status {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}
