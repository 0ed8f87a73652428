// Package audit persists rejected artifacts and pass outcomes as JSONL so no
// invalid snapshot is ever silently dropped.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindRejected    Kind = "rejected"
	KindUnavailable Kind = "unavailable"
	KindPassOK      Kind = "pass_ok"
	KindPassFailed  Kind = "pass_failed"
)

const dayLayout = "2006-01-02"

// Event is one persisted audit line.
type Event struct {
	Timestamp string         `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	PassID    string         `json:"pass_id"`
	Key       string         `json:"key,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Trail appends events into one file per UTC day. A nil *Trail discards.
type Trail struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// Open returns a trail rooted at dir, or nil when dir is empty or "off".
func Open(dir string) (*Trail, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" || strings.EqualFold(trimmed, "off") {
		return nil, nil
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Trail{dir: trimmed, now: time.Now}, nil
}

func (t *Trail) Dir() string {
	if t == nil {
		return ""
	}
	return t.dir
}

func (t *Trail) filePath(day time.Time) string {
	return filepath.Join(t.dir, "audit-"+day.UTC().Format(dayLayout)+".jsonl")
}

// Append writes events in order under a single lock.
func (t *Trail) Append(events ...Event) error {
	if t == nil || len(events) == 0 {
		return nil
	}
	now := t.now().UTC()
	var buf []byte
	for _, ev := range events {
		if ev.Timestamp == "" {
			ev.Timestamp = now.Format(time.RFC3339Nano)
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal audit event: %w", err)
		}
		buf = append(buf, raw...)
		buf = append(buf, '\n')
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.filePath(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	return nil
}

// Read returns the events recorded on the UTC day containing day.
func (t *Trail) Read(day time.Time) ([]Event, error) {
	if t == nil {
		return nil, nil
	}
	f, err := os.Open(t.filePath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	out := make([]Event, 0, 64)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return out, nil
}
