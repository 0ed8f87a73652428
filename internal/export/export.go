// Package export renders a consolidated view for download or audit. Every
// function here is a pure transform of an already published view.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"controlroom/internal/snapshot"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts json, markdown and the markdown-summary / md aliases.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "markdown-summary", "md":
		return FormatMarkdown, nil
	}
	return "", &snapshot.ExportError{Format: raw, Err: ErrUnknownFormat}
}

// ContentType is the HTTP media type for a format.
func (f Format) ContentType() string {
	if f == FormatMarkdown {
		return "text/markdown; charset=utf-8"
	}
	return "application/json"
}

// Export serializes view in the requested format.
func Export(view *snapshot.ConsolidatedView, format string) ([]byte, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, &snapshot.ExportError{Format: string(f), Err: errors.New("view is nil")}
	}
	switch f {
	case FormatMarkdown:
		// Ages are relative to the pass that built the view, not the caller.
		return Markdown(view, view.GeneratedAt), nil
	default:
		return JSON(view)
	}
}

// Document is the JSON export shape.
type Document struct {
	GeneratedAt     time.Time           `json:"generatedAt"`
	PassID          string              `json:"passId,omitempty"`
	Overall         snapshot.Status     `json:"overall"`
	StaleProjects   []string            `json:"staleProjects"`
	UnknownProjects []string            `json:"unknownProjects"`
	Snapshots       []snapshot.Snapshot `json:"snapshots"`
}

func NewDocument(view *snapshot.ConsolidatedView) Document {
	doc := Document{
		GeneratedAt:     view.GeneratedAt,
		PassID:          view.PassID,
		Overall:         view.Overall(),
		StaleProjects:   nonNil(view.StaleProjects),
		UnknownProjects: nonNil(view.UnknownProjects),
		Snapshots:       make([]snapshot.Snapshot, 0, len(view.Entries)),
	}
	for _, p := range view.Projects() {
		doc.Snapshots = append(doc.Snapshots, view.Entries[p])
	}
	return doc
}

func JSON(view *snapshot.ConsolidatedView) ([]byte, error) {
	b, err := json.MarshalIndent(NewDocument(view), "", "  ")
	if err != nil {
		return nil, &snapshot.ExportError{Format: string(FormatJSON), Err: fmt.Errorf("marshal view: %w", err)}
	}
	return append(b, '\n'), nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
