// Package refresh keeps an in-memory snapshot of validated records, pulled
// from the planner API on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"plancal/internal/api"
	"plancal/internal/datetime"
	appLog "plancal/internal/log"
	"plancal/internal/metrics"
	"plancal/internal/model"
)

// Snapshot is an immutable view of the records at one point in time.
// Version increases whenever a refresh installs a different body.
type Snapshot struct {
	Records   []model.DomainRecord
	Version   uint64
	UpdatedAt time.Time
	FromCache bool
}

// Store holds the current snapshot.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the latest snapshot. Callers must not mutate Records.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Replace installs records as a new snapshot version.
func (s *Store) Replace(records []model.DomainRecord, at time.Time, fromCache bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{
		Records:   records,
		Version:   s.snap.Version + 1,
		UpdatedAt: at,
		FromCache: fromCache,
	}
	return s.snap
}

func (s *Store) keep(fromCache bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.FromCache = fromCache
	return s.snap
}

// unchanged reports whether res is the cached body prev was already built
// from. The cache stamp only moves when a fresh body is written.
func unchanged(prev Snapshot, res api.FetchResult) bool {
	return res.FromCache && prev.Version > 0 && !res.UpdatedAt.IsZero() && res.UpdatedAt.Equal(prev.UpdatedAt)
}

// Source lists the wire records.
type Source interface {
	FetchObjectives(ctx context.Context) (api.FetchResult, error)
}

// Refresher pulls from Source into Store. A failed pull keeps the previous
// snapshot.
type Refresher struct {
	src     Source
	store   *Store
	clock   datetime.Clock
	metrics *metrics.Metrics
	timeout time.Duration

	mu      sync.Mutex // serializes Refresh
	cron    *cron.Cron
	running bool
}

func New(src Source, store *Store, clock datetime.Clock, m *metrics.Metrics) *Refresher {
	if clock == nil {
		clock = datetime.SystemClock{}
	}
	return &Refresher{
		src:     src,
		store:   store,
		clock:   clock,
		metrics: m,
		timeout: time.Minute,
	}
}

// Refresh performs one pull. Invalid records are skipped and logged; they
// never abort the batch.
func (r *Refresher) Refresh(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.src.FetchObjectives(ctx)
	if err != nil {
		r.metrics.ObserveRefresh("error", 0, 0)
		prev := r.store.Current()
		appLog.Error("refresh failed; keeping previous snapshot", err, "version", prev.Version, "records", len(prev.Records))
		return prev, err
	}

	records, errs := model.ParseObjectives(res.Objectives)
	for _, e := range errs {
		appLog.Warn("skipping invalid record", "err", e.Error())
	}

	at := res.UpdatedAt
	if at.IsZero() {
		at = r.clock.Now()
	}
	var snap Snapshot
	if unchanged(r.store.Current(), res) {
		snap = r.store.keep(res.FromCache)
	} else {
		snap = r.store.Replace(records, at, res.FromCache)
	}

	result := "ok"
	if res.FromCache {
		result = "cached"
	}
	r.metrics.ObserveRefresh(result, len(records), len(errs))
	appLog.Info("refresh complete", "version", snap.Version, "records", len(records), "invalid", len(errs), "from_cache", res.FromCache)
	return snap, nil
}

// Start schedules Refresh on schedule (standard 5-field cron) and runs it once
// immediately. Overlapping runs are skipped.
func (r *Refresher) Start(ctx context.Context, schedule string) error {
	if r.running {
		return errors.New("refresher already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { r.runOnce(ctx) }); err != nil {
		return err
	}

	r.runOnce(ctx)
	c.Start()
	r.cron = c
	r.running = true
	appLog.Info("refresh scheduled", "cron", schedule)
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}

func (r *Refresher) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, _ = r.Refresh(ctx)
}
