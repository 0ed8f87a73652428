// Package consolidate keeps the latest snapshot per project and derives
// suite-wide staleness.
package consolidate

import (
	"sort"
	"strings"
	"time"

	"controlroom/internal/snapshot"
)

// DefaultWindow is the staleness window used when none is configured.
const DefaultWindow = time.Hour

type Options struct {
	// Window is the default freshness window.
	Window time.Duration
	// ProjectWindows overrides Window per project.
	ProjectWindows map[string]time.Duration
	// KnownProjects are reported as unknown while no snapshot has been seen.
	KnownProjects []string
	// Now defaults to time.Now.
	Now func() time.Time
}

type Consolidator struct {
	window  time.Duration
	windows map[string]time.Duration
	known   []string
	now     func() time.Time
}

func New(opts Options) *Consolidator {
	c := &Consolidator{
		window:  opts.Window,
		windows: make(map[string]time.Duration, len(opts.ProjectWindows)),
		now:     opts.Now,
	}
	if c.window <= 0 {
		c.window = DefaultWindow
	}
	if c.now == nil {
		c.now = time.Now
	}
	for p, w := range opts.ProjectWindows {
		if w > 0 {
			c.windows[p] = w
		}
	}
	seen := make(map[string]struct{}, len(opts.KnownProjects))
	for _, p := range opts.KnownProjects {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		c.known = append(c.known, p)
	}
	sort.Strings(c.known)
	return c
}

// Window returns the staleness window that applies to project.
func (c *Consolidator) Window(project string) time.Duration {
	if w, ok := c.windows[project]; ok {
		return w
	}
	return c.window
}

// KnownProjects returns the registered identities, sorted.
func (c *Consolidator) KnownProjects() []string {
	return append([]string(nil), c.known...)
}

// Empty is the view published before any pass has succeeded.
func (c *Consolidator) Empty() *snapshot.ConsolidatedView {
	v := snapshot.EmptyView(c.known)
	v.GeneratedAt = c.now().UTC()
	return v
}

// Ingest builds a new view from the entries of prev followed by snaps in read
// order. Per project the maximal timestamp wins; equal timestamps go to the
// later candidate. prev is never modified.
func (c *Consolidator) Ingest(prev *snapshot.ConsolidatedView, snaps []snapshot.Snapshot) *snapshot.ConsolidatedView {
	entries := make(map[string]snapshot.Snapshot, len(snaps))
	if prev != nil {
		for p, s := range prev.Entries {
			entries[p] = s
		}
	}
	for _, s := range snaps {
		cur, ok := entries[s.Project]
		if !ok || !s.Timestamp.Before(cur.Timestamp) {
			entries[s.Project] = s
		}
	}
	return c.view(entries)
}

func (c *Consolidator) view(entries map[string]snapshot.Snapshot) *snapshot.ConsolidatedView {
	now := c.now().UTC()
	v := &snapshot.ConsolidatedView{
		Entries:         entries,
		GeneratedAt:     now,
		StaleProjects:   []string{},
		UnknownProjects: []string{},
	}
	for p, s := range entries {
		if s.Timestamp.Before(now.Add(-c.Window(p))) {
			v.StaleProjects = append(v.StaleProjects, p)
		}
	}
	sort.Strings(v.StaleProjects)
	for _, p := range c.known {
		if _, ok := entries[p]; !ok {
			v.UnknownProjects = append(v.UnknownProjects, p)
		}
	}
	return v
}
