package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/observability"
	"github.com/kbukum/discoverykit/resilience"
)

// WatchState is the state of one reconciler loop.
type WatchState string

const (
	WatchIdle      WatchState = "idle"
	WatchPolling   WatchState = "polling"
	WatchUpdated   WatchState = "updated"
	WatchUnchanged WatchState = "unchanged"
	WatchFailed    WatchState = "failed"
)

// WatchStatus describes a watched service.
type WatchStatus struct {
	Service             string     `json:"service"`
	State               WatchState `json:"state"`
	Index               uint64     `json:"index"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastPollAt          time.Time  `json:"last_poll_at"`
	PendingRemovals     int        `json:"pending_removals"`
}

// Reconciler keeps the InstanceCache in line with the registry. It runs one
// long-poll loop per watched service and is the only writer of the cache.
type Reconciler struct {
	client  RegistryClient
	cache   *InstanceCache
	cfg     WatchConfig
	backoff resilience.BackoffConfig
	metrics *observability.DiscoveryMetrics
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	stopped bool
	watches map[string]*watch

	// releasing holds services whose loop is being torn down by Unwatch.
	releasing map[string]chan struct{}

	subMu   sync.RWMutex
	subs    map[uint64]chan ChangeEvent
	nextSub uint64
}

type watch struct {
	service string
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	status WatchStatus
}

// loopState is owned by a single loop goroutine.
type loopState struct {
	index     uint64
	published bool
	raw       CatalogSnapshot
	view      CatalogSnapshot
	misses    map[string]int
}

// NewReconciler creates a Reconciler. Services listed in cfg.Services are
// watched once Start is called. A nil metrics value disables metrics.
func NewReconciler(client RegistryClient, cache *InstanceCache, cfg WatchConfig, backoff resilience.BackoffConfig, metrics *observability.DiscoveryMetrics, log *logger.Logger) *Reconciler {
	cfg.ApplyDefaults()
	backoff.ApplyDefaults()
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Reconciler{
		client:    client,
		cache:     cache,
		cfg:       cfg,
		backoff:   backoff,
		metrics:   metrics,
		log:       log.WithComponent("reconciler"),
		now:       time.Now,
		watches:   make(map[string]*watch),
		releasing: make(map[string]chan struct{}),
		subs:      make(map[uint64]chan ChangeEvent),
	}
	for _, svc := range cfg.Services {
		r.watches[svc] = newWatch(svc)
	}
	return r
}

func newWatch(service string) *watch {
	return &watch{
		service: service,
		done:    make(chan struct{}),
		status:  WatchStatus{Service: service, State: WatchIdle},
	}
}

// Start launches the loops of every registered watch and the eviction janitor.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if r.stopped {
		return fmt.Errorf("reconciler: already stopped")
	}

	// Loops outlive the Start call; only Stop ends them.
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.group = new(errgroup.Group)
	r.started = true

	for _, w := range r.watches {
		r.launch(w)
	}
	r.group.Go(func() error {
		r.janitor(r.ctx)
		return nil
	})

	r.log.Info("reconciler started", logger.Fields("watches", len(r.watches)))
	return nil
}

// Stop cancels every loop and waits for them until ctx is done.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.stopped = true
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.cancel()
	group := r.group
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		r.closeSubscribers()
		r.log.Info("reconciler stopped")
		return err
	case <-ctx.Done():
		go func() {
			<-done
			r.closeSubscribers()
		}()
		return fmt.Errorf("reconciler: shutdown: %w", ctx.Err())
	}
}

// Watch adds a service. Calling it for an already watched service is a no-op.
// If the service is being unwatched, Watch waits for that to finish.
func (r *Reconciler) Watch(service string) error {
	if service == "" {
		return errors.InvalidConfig("service", "service name is empty")
	}
	r.mu.Lock()
	for {
		released, pending := r.releasing[service]
		if !pending {
			break
		}
		r.mu.Unlock()
		<-released
		r.mu.Lock()
	}
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("reconciler: already stopped")
	}
	if _, ok := r.watches[service]; ok {
		return nil
	}
	w := newWatch(service)
	r.watches[service] = w
	if r.started {
		r.launch(w)
	}
	return nil
}

// Unwatch stops the loop of a service and drops its cache entry.
func (r *Reconciler) Unwatch(service string) {
	r.mu.Lock()
	w, ok := r.watches[service]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.watches, service)
	released := make(chan struct{})
	r.releasing[service] = released
	started := r.started
	r.mu.Unlock()

	if started && w.cancel != nil {
		w.cancel()
		<-w.done
	}

	// The entry is dropped before a new Watch of the same service can start
	// a loop, so it never removes that loop's snapshot.
	r.mu.Lock()
	r.cache.Remove(service)
	delete(r.releasing, service)
	close(released)
	r.mu.Unlock()
	r.log.Info("stopped watching", logger.Fields(logger.FieldTarget, service))
}

// Watched returns the watched services, sorted.
func (r *Reconciler) Watched() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.watches))
	for name := range r.watches {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Status returns the loop status of a watched service.
func (r *Reconciler) Status(service string) (WatchStatus, bool) {
	r.mu.Lock()
	w, ok := r.watches[service]
	r.mu.Unlock()
	if !ok {
		return WatchStatus{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status, true
}

// Subscribe returns a channel of change events and a function that cancels
// the subscription. A subscriber that does not keep up loses events.
func (r *Reconciler) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = r.cfg.SubscriberBuffer
	}
	ch := make(chan ChangeEvent, buffer)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			if _, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(ch)
			}
			r.subMu.Unlock()
		})
	}
}

func (r *Reconciler) closeSubscribers() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

func (r *Reconciler) publish(ev ChangeEvent) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.log.Warn("subscriber buffer full, dropping change event", logger.Fields(
				logger.FieldTarget, ev.Service,
				logger.FieldIndex, ev.Index,
			))
		}
	}
}

// launch must be called with r.mu held.
func (r *Reconciler) launch(w *watch) {
	ctx, cancel := context.WithCancel(r.ctx)
	w.cancel = cancel
	r.group.Go(func() error {
		defer close(w.done)
		defer cancel()
		r.run(ctx, w)
		return nil
	})
}

func (r *Reconciler) run(ctx context.Context, w *watch) {
	log := r.log.WithFields(logger.Fields(logger.FieldTarget, w.service))
	bo := resilience.NewBackoff(r.backoff)
	st := &loopState{misses: make(map[string]int)}

	log.Debug("watch loop started")
	for ctx.Err() == nil {
		w.setState(WatchPolling)
		started := r.now()
		snap, err := r.client.FetchCatalog(ctx, w.service, st.waitIndex(), r.cfg.PollTimeout)
		elapsed := r.now().Sub(started)

		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, errors.ErrCodeInvalidResponse) {
				// The cache is left alone; the loop waits one initial interval
				// so a registry that keeps answering garbage cannot spin it.
				r.metrics.RecordPoll(ctx, w.service, "invalid", elapsed)
				w.update(func(s *WatchStatus) {
					s.State = WatchUnchanged
					s.LastError = err.Error()
					s.LastPollAt = started
				})
				log.Warn("ignoring invalid registry response", logger.Fields(logger.FieldError, err.Error()))
				if resilience.Sleep(ctx, r.backoff.Initial) != nil {
					break
				}
				continue
			}

			delay := bo.Next()
			r.metrics.RecordPoll(ctx, w.service, "failed", elapsed)
			w.update(func(s *WatchStatus) {
				s.State = WatchFailed
				s.ConsecutiveFailures = bo.Attempts()
				s.LastError = err.Error()
				s.LastPollAt = started
			})
			log.Warn("catalog fetch failed, serving cached instances", logger.Fields(
				logger.FieldAttempt, bo.Attempts(),
				logger.FieldBackoff, delay.Milliseconds(),
				logger.FieldError, err.Error(),
			))
			if resilience.Sleep(ctx, delay) != nil {
				break
			}
			continue
		}

		if bo.Attempts() > 0 {
			log.Info("registry reachable again", logger.Fields(logger.FieldAttempt, bo.Attempts()))
		}
		bo.Reset()

		state := r.apply(ctx, w.service, st, snap, log)
		r.metrics.RecordPoll(ctx, w.service, string(state), elapsed)
		w.update(func(s *WatchStatus) {
			s.State = state
			s.Index = st.index
			s.ConsecutiveFailures = 0
			s.LastError = ""
			s.LastPollAt = started
			s.PendingRemovals = len(st.misses)
		})
	}
	w.setState(WatchIdle)
	log.Debug("watch loop stopped")
}

// apply reconciles one successful fetch into the cache and returns the
// resulting loop state.
func (r *Reconciler) apply(ctx context.Context, service string, st *loopState, snap CatalogSnapshot, log *logger.Logger) WatchState {
	now := r.now()
	reset := st.published && snap.Index < st.index

	if st.published && !reset && snap.Index == st.index {
		if len(st.misses) == 0 {
			if r.cache.Touch(service, now) {
				return WatchUnchanged
			}
			return r.republish(ctx, service, st, now, log)
		}
		// Same index but removals are pending: the fetch still counts as a
		// confirmation that the instances are gone.
		snap = st.raw
	}

	if reset {
		log.Warn("registry index went backwards, resetting", logger.Fields(
			logger.FieldIndex, snap.Index,
			"previous_index", st.index,
		))
	}

	view := r.merge(service, st, snap)
	diff := ComputeDiff(st.view, view)

	switch {
	case !st.published:
		r.cache.Put(view, now)
	case reset:
		r.cache.Replace(view, now)
	case !r.cache.Put(view, now):
		log.Warn("discarding snapshot older than the cached one", logger.Fields(logger.FieldIndex, view.Index))
		return WatchUnchanged
	}

	initial := !st.published
	st.published = true
	st.raw = snap
	st.view = view
	st.index = snap.Index

	passing := 0
	for _, inst := range view.Instances {
		if inst.IsPassing() {
			passing++
		}
	}
	r.metrics.RecordInstances(ctx, service, len(view.Instances), passing)

	if !initial && diff.Empty() {
		return WatchUnchanged
	}

	r.metrics.RecordChanges(ctx, service, len(diff.Added), len(diff.Removed), len(diff.Changed))
	log.Info("service instances updated", logger.Fields(
		logger.FieldIndex, view.Index,
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"changed", len(diff.Changed),
		"passing", passing,
		"initial", initial,
	))
	r.publish(ChangeEvent{
		Service: service,
		Index:   view.Index,
		Diff:    diff,
		Initial: initial,
		At:      now,
	})
	return WatchUpdated
}

// republish restores the published view after the janitor evicted it, for
// example when the registry came back at an unchanged index after an outage
// longer than the staleness ceiling. Subscribers see a fresh initial event.
func (r *Reconciler) republish(ctx context.Context, service string, st *loopState, now time.Time, log *logger.Logger) WatchState {
	r.cache.Put(st.view, now)
	log.Info("republished evicted service entry", logger.Fields(
		logger.FieldIndex, st.view.Index,
		"instances", len(st.view.Instances),
	))
	diff := ComputeDiff(CatalogSnapshot{ServiceName: service}, st.view)
	r.metrics.RecordChanges(ctx, service, len(diff.Added), 0, 0)
	r.publish(ChangeEvent{
		Service: service,
		Index:   st.view.Index,
		Diff:    diff,
		Initial: true,
		At:      now,
	})
	return WatchUpdated
}

// merge overlays snap on the published view. Instances missing from snap stay
// in the view until they have been missing for RemovalDebounce fetches.
func (r *Reconciler) merge(service string, st *loopState, snap CatalogSnapshot) CatalogSnapshot {
	instances := make([]ServiceInstance, 0, len(snap.Instances)+len(st.misses))
	instances = append(instances, snap.Instances...)

	for _, id := range presentIDs(snap) {
		delete(st.misses, id)
	}
	for _, prev := range st.view.Instances {
		if _, ok := snap.Lookup(prev.InstanceID); ok {
			continue
		}
		st.misses[prev.InstanceID]++
		if st.misses[prev.InstanceID] < r.cfg.RemovalDebounce {
			instances = append(instances, prev)
			continue
		}
		delete(st.misses, prev.InstanceID)
	}
	return NewSnapshot(service, snap.Index, instances)
}

func presentIDs(snap CatalogSnapshot) []string {
	ids := make([]string, len(snap.Instances))
	for i, inst := range snap.Instances {
		ids[i] = inst.InstanceID
	}
	return ids
}

// waitIndex is 0 until the first snapshot is published, then at least 1 so
// a registry reporting index 0 does not turn the long poll into a busy loop.
func (st *loopState) waitIndex() uint64 {
	switch {
	case !st.published:
		return 0
	case st.index == 0:
		return 1
	default:
		return st.index
	}
}

func (r *Reconciler) janitor(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, svc := range r.cache.EvictStale(r.now()) {
				r.log.Warn("evicted stale service entry", logger.Fields(logger.FieldTarget, svc))
			}
		}
	}
}

func (w *watch) setState(s WatchState) {
	w.mu.Lock()
	w.status.State = s
	w.mu.Unlock()
}

func (w *watch) update(fn func(*WatchStatus)) {
	w.mu.Lock()
	fn(&w.status)
	w.mu.Unlock()
}
