package snapshot

import (
	"errors"
	"fmt"
)

var (
	ErrArtifactUnavailable  = errors.New("artifact unavailable")
	ErrSchema               = errors.New("schema error")
	ErrClassificationConfig = errors.New("classification config error")
	ErrExport               = errors.New("export error")
)

// ArtifactUnavailableError is a transient store-level failure for one
// artifact. The artifact is retried on the next pass.
type ArtifactUnavailableError struct {
	Key string
	Err error
}

func (e *ArtifactUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("artifact %s unavailable", e.Key)
	}
	return fmt.Sprintf("artifact %s unavailable: %v", e.Key, e.Err)
}

func (e *ArtifactUnavailableError) Unwrap() error { return e.Err }

func (e *ArtifactUnavailableError) Is(target error) bool {
	return target == ErrArtifactUnavailable
}

func Unavailable(key string, err error) error {
	return &ArtifactUnavailableError{Key: key, Err: err}
}

// SchemaError rejects one artifact until its producer rewrites it.
type SchemaError struct {
	Ref        SourceRef `json:"sourceRef"`
	Reason     string    `json:"reason"`
	RawExcerpt string    `json:"rawExcerpt,omitempty"`
}

func (e *SchemaError) Error() string {
	if e.Ref.Key == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: %s: %s", e.Ref.Key, e.Reason)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

const maxExcerpt = 160

// Excerpt trims raw artifact bytes to a loggable prefix.
func Excerpt(raw []byte) string {
	if len(raw) <= maxExcerpt {
		return string(raw)
	}
	return string(raw[:maxExcerpt]) + "..."
}

// ClassificationConfigError reports a malformed threshold policy. It is fatal
// at startup since a bad rule would misclassify health.
type ClassificationConfigError struct {
	Project string
	KPI     string
	Reason  string
}

func (e *ClassificationConfigError) Error() string {
	switch {
	case e.Project != "" && e.KPI != "":
		return fmt.Sprintf("thresholds: project %s kpi %s: %s", e.Project, e.KPI, e.Reason)
	case e.KPI != "":
		return fmt.Sprintf("thresholds: kpi %s: %s", e.KPI, e.Reason)
	default:
		return "thresholds: " + e.Reason
	}
}

func (e *ClassificationConfigError) Is(target error) bool {
	return target == ErrClassificationConfig
}

// ExportError is a serialization failure. It never touches in-memory state.
type ExportError struct {
	Format string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Format, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

func (e *ExportError) Is(target error) bool { return target == ErrExport }
