// Package controlroom runs discovery passes over a snapshot store and
// publishes the consolidated view. A single writer builds each view; readers
// load it atomically and never observe a partial update.
package controlroom

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"controlroom/internal/audit"
	"controlroom/internal/classify"
	"controlroom/internal/consolidate"
	"controlroom/internal/logging"
	"controlroom/internal/metrics"
	"controlroom/internal/normalize"
	"controlroom/internal/publish"
	"controlroom/internal/snapshot"
	"controlroom/internal/store"
	"controlroom/internal/validate"
)

const (
	DefaultPassTimeout     = 30 * time.Second
	DefaultReadTimeout     = 5 * time.Second
	DefaultReadConcurrency = 8
	DefaultHistoryLimit    = 50
)

type Options struct {
	Store        store.Store
	Validator    *validate.Validator
	Normalizer   *normalize.Normalizer
	Classifier   *classify.Classifier
	Consolidator *consolidate.Consolidator

	PassTimeout     time.Duration
	ReadTimeout     time.Duration
	ReadConcurrency int
	HistoryLimit    int

	Audit     *audit.Trail
	Metrics   *metrics.Metrics
	Publisher publish.Publisher
	Logger    *slog.Logger
}

// state is published as a whole; nothing reachable from it is mutated after
// Store.
type state struct {
	view    *snapshot.ConsolidatedView
	history map[string][]snapshot.Snapshot
}

type Service struct {
	store        store.Store
	validator    *validate.Validator
	normalizer   *normalize.Normalizer
	classifier   *classify.Classifier
	consolidator *consolidate.Consolidator

	passTimeout     time.Duration
	readTimeout     time.Duration
	readConcurrency int
	historyLimit    int

	audit     *audit.Trail
	metrics   *metrics.Metrics
	publisher publish.Publisher
	log       *slog.Logger

	// sem admits one discovery pass at a time.
	sem   chan struct{}
	state atomic.Pointer[state]
	subs  *broker

	statusMu sync.RWMutex
	status   Status

	// rejectedSeen holds the rejections of the previous pass. Guarded by sem.
	rejectedSeen map[string]struct{}
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("controlroom: store is required")
	}
	s := &Service{
		store:           opts.Store,
		validator:       opts.Validator,
		normalizer:      opts.Normalizer,
		classifier:      opts.Classifier,
		consolidator:    opts.Consolidator,
		passTimeout:     opts.PassTimeout,
		readTimeout:     opts.ReadTimeout,
		readConcurrency: opts.ReadConcurrency,
		historyLimit:    opts.HistoryLimit,
		audit:           opts.Audit,
		metrics:         opts.Metrics,
		publisher:       opts.Publisher,
		log:             opts.Logger,
		sem:             make(chan struct{}, 1),
		subs:            newBroker(),
		rejectedSeen:    map[string]struct{}{},
	}
	if s.validator == nil {
		v, err := validate.New()
		if err != nil {
			return nil, err
		}
		s.validator = v
	}
	if s.normalizer == nil {
		s.normalizer = normalize.New(normalize.Options{})
	}
	if s.classifier == nil {
		c, err := classify.NewClassifier(classify.Policy{})
		if err != nil {
			return nil, err
		}
		s.classifier = c
	}
	if s.consolidator == nil {
		s.consolidator = consolidate.New(consolidate.Options{})
	}
	if s.passTimeout <= 0 {
		s.passTimeout = DefaultPassTimeout
	}
	if s.readTimeout <= 0 {
		s.readTimeout = DefaultReadTimeout
	}
	if s.readConcurrency <= 0 {
		s.readConcurrency = DefaultReadConcurrency
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	if s.publisher == nil {
		s.publisher = publish.Nop{}
	}
	if s.log == nil {
		s.log = logging.New("discovery")
	}
	s.status.Store = s.store.Name()
	s.state.Store(&state{
		view:    s.consolidator.Empty(),
		history: map[string][]snapshot.Snapshot{},
	})
	return s, nil
}

// CurrentView returns the latest published view. It is never nil.
func (s *Service) CurrentView() *snapshot.ConsolidatedView {
	return s.state.Load().view
}

// Snapshot returns the current snapshot of one project.
func (s *Service) Snapshot(project string) (snapshot.Snapshot, bool) {
	snap, ok := s.state.Load().view.Entries[project]
	return snap, ok
}

// History yields the retained snapshots of project, newest first. The
// sequence is bound to the history published when History was called, so it
// can be ranged over any number of times with the same result.
func (s *Service) History(project string) iter.Seq[snapshot.Snapshot] {
	hist := s.state.Load().history[project]
	return func(yield func(snapshot.Snapshot) bool) {
		for _, snap := range hist {
			if !yield(snap) {
				return
			}
		}
	}
}

func (s *Service) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	out := s.status
	if out.LastPass != nil {
		r := *out.LastPass
		out.LastPass = &r
	}
	return out
}

// KnownProjects returns the registered producer identities.
func (s *Service) KnownProjects() []string {
	return s.consolidator.KnownProjects()
}

// Subscribe returns a channel receiving each newly published view. The
// channel holds at most one pending view; a slow reader only sees the latest.
func (s *Service) Subscribe() (<-chan *snapshot.ConsolidatedView, func()) {
	return s.subs.subscribe()
}

type outcome struct {
	snap        *snapshot.Snapshot
	rejected    *snapshot.SchemaError
	unavailable *UnavailableArtifact
}

// Discover runs one discovery pass. Concurrent callers queue behind the pass
// in flight. When listing fails or the pass times out the previous view stays
// published and the error is returned alongside the report.
func (s *Service) Discover(ctx context.Context) (PassReport, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return PassReport{}, ctx.Err()
	}
	defer func() { <-s.sem }()

	report := PassReport{
		ID:          uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Unavailable: []UnavailableArtifact{},
		Rejected:    []snapshot.SchemaError{},
	}
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	accepted, err := s.run(passCtx, &report)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		report.Err = err.Error()
		s.failed(report)
		return report, err
	}

	prev := s.state.Load()
	view := s.consolidator.Ingest(prev.view, accepted)
	view.PassID = report.ID
	s.state.Store(&state{
		view:    view,
		history: mergeHistory(prev.history, accepted, s.historyLimit),
	})
	s.succeeded(ctx, report, view)
	return report, nil
}

func (s *Service) run(ctx context.Context, report *PassReport) ([]snapshot.Snapshot, error) {
	handles, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.store.Name(), err)
	}
	report.Listed = len(handles)

	results := make([]outcome, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readConcurrency)
	for i, h := range handles {
		g.Go(func() error {
			results[i] = s.process(gctx, h)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discovery pass abandoned: %w", err)
	}

	// Results stay in listing order so equal timestamps resolve to the
	// later read.
	accepted := make([]snapshot.Snapshot, 0, len(results))
	for _, r := range results {
		switch {
		case r.snap != nil:
			accepted = append(accepted, *r.snap)
		case r.rejected != nil:
			report.Rejected = append(report.Rejected, *r.rejected)
		case r.unavailable != nil:
			report.Unavailable = append(report.Unavailable, *r.unavailable)
		}
	}
	report.Accepted = len(accepted)
	return accepted, nil
}

// process is the sequential per-artifact pipeline: read, validate,
// normalize, classify.
func (s *Service) process(ctx context.Context, h store.Handle) outcome {
	ref := snapshot.SourceRef{Store: s.store.Name(), Key: h.Key, Size: h.Size, ModTime: h.ModTime}
	raw, err := s.read(ctx, h)
	if errors.Is(err, store.ErrTooLarge) {
		return rejection(err, ref, nil)
	}
	if err != nil {
		return outcome{unavailable: &UnavailableArtifact{Key: h.Key, Reason: err.Error()}}
	}
	art, err := s.validator.Validate(raw, ref)
	if err != nil {
		return rejection(err, ref, raw)
	}
	snap, err := s.normalizer.Normalize(art)
	if err != nil {
		return rejection(err, ref, raw)
	}
	snap = s.classifier.Classify(snap)
	return outcome{snap: &snap}
}

// read bounds a single store read even when the backend ignores ctx.
func (s *Service) read(ctx context.Context, h store.Handle) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := s.store.Read(rctx, h)
		done <- result{raw: raw, err: err}
	}()
	select {
	case r := <-done:
		if r.err != nil && !errors.Is(r.err, snapshot.ErrArtifactUnavailable) && !errors.Is(r.err, store.ErrTooLarge) {
			return nil, snapshot.Unavailable(h.Key, r.err)
		}
		return r.raw, r.err
	case <-rctx.Done():
		return nil, snapshot.Unavailable(h.Key, fmt.Errorf("read timed out: %w", rctx.Err()))
	}
}

func rejection(err error, ref snapshot.SourceRef, raw []byte) outcome {
	var se *snapshot.SchemaError
	if !errors.As(err, &se) {
		se = &snapshot.SchemaError{Ref: ref, Reason: err.Error(), RawExcerpt: snapshot.Excerpt(raw)}
	}
	return outcome{rejected: se}
}

func (s *Service) succeeded(ctx context.Context, report PassReport, view *snapshot.ConsolidatedView) {
	fresh := s.freshRejections(report.Rejected)

	s.statusMu.Lock()
	s.status.LastPass = &report
	s.status.LastSuccess = report.FinishedAt
	s.status.ConsecutiveFailures = 0
	s.status.Passes++
	s.statusMu.Unlock()

	events := make([]audit.Event, 0, len(fresh)+len(report.Unavailable)+1)
	for _, r := range report.Rejected {
		if _, ok := fresh[rejectionKey(r)]; !ok {
			s.log.Debug("artifact still rejected", "key", r.Ref.Key, "reason", r.Reason)
			continue
		}
		s.log.Warn("artifact rejected", "pass", report.ID, "key", r.Ref.Key, "reason", r.Reason)
		events = append(events, audit.Event{
			Kind: audit.KindRejected, PassID: report.ID, Key: r.Ref.Key, Reason: r.Reason,
			Fields: map[string]any{"excerpt": r.RawExcerpt},
		})
	}
	for _, u := range report.Unavailable {
		s.log.Warn("artifact unavailable", "pass", report.ID, "key", u.Key, "reason", u.Reason)
		events = append(events, audit.Event{Kind: audit.KindUnavailable, PassID: report.ID, Key: u.Key, Reason: u.Reason})
	}
	events = append(events, audit.Event{
		Kind:   audit.KindPassOK,
		PassID: report.ID,
		Fields: map[string]any{
			"listed":      report.Listed,
			"accepted":    report.Accepted,
			"rejected":    len(report.Rejected),
			"unavailable": len(report.Unavailable),
			"stale":       view.StaleProjects,
			"unknown":     view.UnknownProjects,
			"duration_ms": report.Duration().Milliseconds(),
		},
	})
	if err := s.audit.Append(events...); err != nil {
		s.log.Error("audit append failed", "error", err)
	}

	s.metrics.ObservePass(true, report.Duration(), report.Accepted, len(report.Rejected), len(report.Unavailable))
	s.metrics.ObserveView(view)

	s.log.Info("discovery pass finished",
		"pass", report.ID,
		"listed", report.Listed,
		"accepted", report.Accepted,
		"rejected", len(report.Rejected),
		"unavailable", len(report.Unavailable),
		"stale", len(view.StaleProjects),
		"overall", view.Overall(),
		"duration", report.Duration(),
	)

	s.publish(ctx, report, view, fresh)
	s.subs.notify(view)
}

func (s *Service) publish(ctx context.Context, report PassReport, view *snapshot.ConsolidatedView, fresh map[string]struct{}) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.passTimeout)
	defer cancel()

	err := s.publisher.PublishView(pctx, view)
	s.metrics.ObservePublish("view", err)
	if err != nil {
		s.log.Error("publish view failed", "pass", report.ID, "error", err)
	}

	if len(fresh) == 0 {
		return
	}
	rejected := make([]snapshot.SchemaError, 0, len(fresh))
	for _, r := range report.Rejected {
		if _, ok := fresh[rejectionKey(r)]; ok {
			rejected = append(rejected, r)
		}
	}
	err = s.publisher.PublishRejections(pctx, report.ID, rejected)
	s.metrics.ObservePublish("rejections", err)
	if err != nil {
		s.log.Error("publish rejections failed", "pass", report.ID, "error", err)
	}
}

func (s *Service) failed(report PassReport) {
	s.statusMu.Lock()
	s.status.LastPass = &report
	s.status.ConsecutiveFailures++
	s.status.Passes++
	failures := s.status.ConsecutiveFailures
	s.statusMu.Unlock()

	s.log.Error("discovery pass failed, keeping previous view",
		"pass", report.ID, "error", report.Err, "consecutive_failures", failures)
	if err := s.audit.Append(audit.Event{Kind: audit.KindPassFailed, PassID: report.ID, Reason: report.Err}); err != nil {
		s.log.Error("audit append failed", "error", err)
	}
	s.metrics.ObservePass(false, report.Duration(), 0, 0, 0)
}

// freshRejections returns the rejections not already reported by the previous
// successful pass, so an unchanged bad artifact is audited once.
func (s *Service) freshRejections(rejected []snapshot.SchemaError) map[string]struct{} {
	current := make(map[string]struct{}, len(rejected))
	fresh := map[string]struct{}{}
	for _, r := range rejected {
		k := rejectionKey(r)
		current[k] = struct{}{}
		if _, seen := s.rejectedSeen[k]; !seen {
			fresh[k] = struct{}{}
		}
	}
	s.rejectedSeen = current
	return fresh
}

func rejectionKey(r snapshot.SchemaError) string {
	return r.Ref.Key + "|" + strconv.FormatInt(r.Ref.Size, 10) + "|" + strconv.FormatInt(r.Ref.ModTime.UnixNano(), 10)
}

// mergeHistory returns a new history map; slices of untouched projects are
// shared with prev since neither is ever mutated.
func mergeHistory(prev map[string][]snapshot.Snapshot, accepted []snapshot.Snapshot, limit int) map[string][]snapshot.Snapshot {
	if len(accepted) == 0 {
		return prev
	}
	byProject := map[string][]snapshot.Snapshot{}
	for _, snap := range accepted {
		byProject[snap.Project] = append(byProject[snap.Project], snap)
	}
	next := make(map[string][]snapshot.Snapshot, len(prev)+len(byProject))
	for p, h := range prev {
		next[p] = h
	}
	for p, fresh := range byProject {
		old := prev[p]
		merged := make([]snapshot.Snapshot, 0, len(fresh)+len(old))
		seen := make(map[string]struct{}, len(fresh)+len(old))
		add := func(snap snapshot.Snapshot) {
			k := strconv.FormatInt(snap.Timestamp.UnixNano(), 10) + "|" + snap.SourceRef.Key
			if _, dup := seen[k]; dup {
				return
			}
			seen[k] = struct{}{}
			merged = append(merged, snap)
		}
		// Later reads first so equal timestamps order like the view's
		// last-write-wins rule.
		for i := len(fresh) - 1; i >= 0; i-- {
			add(fresh[i])
		}
		for _, snap := range old {
			add(snap)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		})
		if len(merged) > limit {
			merged = merged[:limit]
		}
		next[p] = merged
	}
	return next
}
