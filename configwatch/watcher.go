package configwatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/resilience"
)

// Pair is one key-value entry.
type Pair struct {
	Key   string
	Value []byte
}

// Result is the answer to a blocking read.
type Result struct {
	Pairs []Pair
	Index uint64
}

// Source is a key-value store supporting blocking reads. A read returns once
// the store index moves past waitIndex, or after waitTime.
type Source interface {
	Key(ctx context.Context, key string, waitIndex uint64, waitTime time.Duration) (Result, error)
	Prefix(ctx context.Context, prefix string, waitIndex uint64, waitTime time.Duration) (Result, error)
}

// RefreshEvent reports changed properties of one key. Changes holds the
// previous value of every changed or removed property, and nil for added ones.
type RefreshEvent struct {
	Key     string
	Source  string
	Index   uint64
	Changes map[string]any
	At      time.Time
}

// PropertySource is the current property set of one key. Higher orders take
// precedence.
type PropertySource struct {
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	Order      int        `json:"order"`
	Properties Properties `json:"properties"`
}

// Watcher keeps one blocking watch per configuration key.
type Watcher struct {
	source Source
	cfg    Config
	keys   []string
	log    *logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	propsMu sync.RWMutex
	sources map[string]PropertySource

	subMu   sync.Mutex
	subs    map[uint64]chan RefreshEvent
	nextSub uint64
}

// NewWatcher creates a Watcher for serviceName.
func NewWatcher(source Source, cfg Config, serviceName string, log *logger.Logger) *Watcher {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{
		source:  source,
		cfg:     cfg,
		keys:    cfg.Keys(serviceName),
		log:     log.WithComponent("configwatch"),
		sources: make(map[string]PropertySource),
		subs:    make(map[uint64]chan RefreshEvent),
	}
}

// Keys returns the watched keys in increasing precedence.
func (w *Watcher) Keys() []string {
	return append([]string(nil), w.keys...)
}

// Start begins watching. Calling Start on a started Watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.group = new(errgroup.Group)
	for order, key := range w.keys {
		w.log.Debug("watching key", logger.Fields(logger.FieldKey, key))
		w.group.Go(func() error {
			w.watch(loopCtx, key, order)
			return nil
		})
	}
	w.started = true
	w.log.Info("watching configuration changes", logger.Fields("keys", len(w.keys), "format", w.cfg.Format))
	return nil
}

// Stop ends every watch. Calling Stop on a stopped Watcher is a no-op.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.cancel()
	group := w.group
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("configwatch: shutdown: %w", ctx.Err())
	}
}

// Subscribe returns a channel of refresh events and its cancel function.
// Events that do not fit the buffer are dropped.
func (w *Watcher) Subscribe(buffer int) (<-chan RefreshEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan RefreshEvent, buffer)
	w.subMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	w.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.subMu.Lock()
			delete(w.subs, id)
			w.subMu.Unlock()
			close(ch)
		})
	}
}

// PropertySources returns the loaded sources ordered by precedence, lowest first.
func (w *Watcher) PropertySources() []PropertySource {
	w.propsMu.RLock()
	defer w.propsMu.RUnlock()
	out := make([]PropertySource, 0, len(w.sources))
	for _, key := range w.keys {
		if src, ok := w.sources[key]; ok {
			src.Properties = src.Properties.clone()
			out = append(out, src)
		}
	}
	return out
}

// Properties returns the effective properties with precedence applied.
func (w *Watcher) Properties() Properties {
	merged := make(Properties)
	for _, src := range w.PropertySources() {
		for k, v := range src.Properties {
			merged[k] = v
		}
	}
	return merged
}

// Get returns the effective value of one property.
func (w *Watcher) Get(name string) (any, bool) {
	v, ok := w.Properties()[name]
	return v, ok
}

func (w *Watcher) watch(ctx context.Context, key string, order int) {
	log := w.log.WithFields(logger.Fields(logger.FieldKey, key))
	bo := resilience.NewBackoff(w.cfg.Backoff)
	var index uint64
	primed := false

	for ctx.Err() == nil {
		wait := index
		if primed && wait == 0 {
			wait = 1
		}
		res, err := w.read(ctx, key, wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := bo.Next()
			log.Error("error while listening to config changes", logger.Fields(
				logger.FieldAttempt, bo.Attempts(),
				logger.FieldBackoff, delay.Milliseconds(),
				logger.FieldError, err.Error(),
			))
			if resilience.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		bo.Reset()

		if primed && res.Index == index {
			continue
		}
		index = res.Index

		props, err := w.toProperties(key, res.Pairs)
		if err != nil {
			log.Error("unable to read configuration", logger.Fields(logger.FieldError, err.Error()))
			continue
		}

		if !primed {
			w.store(key, order, props)
			primed = true
			continue
		}
		w.apply(key, order, index, props, log)
	}
}

func (w *Watcher) read(ctx context.Context, key string, waitIndex uint64) (Result, error) {
	if w.cfg.Format == FormatYAML {
		return w.source.Key(ctx, key, waitIndex, w.cfg.WaitTime)
	}
	return w.source.Prefix(ctx, key, waitIndex, w.cfg.WaitTime)
}

func (w *Watcher) toProperties(key string, pairs []Pair) (Properties, error) {
	if w.cfg.Format == FormatYAML {
		return yamlProperties(key, pairs)
	}
	return nativeProperties(key, pairs), nil
}

func (w *Watcher) apply(key string, order int, index uint64, next Properties, log *logger.Logger) {
	w.propsMu.Lock()
	prev := w.sources[key].Properties
	changes := difference(prev, next)
	if len(changes) == 0 {
		w.propsMu.Unlock()
		return
	}
	if bad := incompatible(prev, next); len(bad) > 0 {
		w.propsMu.Unlock()
		log.Error("rejecting configuration change with incompatible types", logger.Fields(
			"incompatible", strings.Join(bad, "; "),
		))
		return
	}
	w.sources[key] = PropertySource{Name: w.cfg.SourceName(key), Key: key, Order: order, Properties: next}
	w.propsMu.Unlock()

	log.Info("configuration updated", logger.Fields(logger.FieldIndex, index, "changes", len(changes)))
	w.publish(RefreshEvent{
		Key:     key,
		Source:  w.cfg.SourceName(key),
		Index:   index,
		Changes: changes,
		At:      time.Now(),
	})
}

func (w *Watcher) store(key string, order int, props Properties) {
	w.propsMu.Lock()
	w.sources[key] = PropertySource{Name: w.cfg.SourceName(key), Key: key, Order: order, Properties: props}
	w.propsMu.Unlock()
}

func (w *Watcher) publish(ev RefreshEvent) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			w.log.Warn("refresh subscriber buffer full, dropping event", logger.Fields(logger.FieldKey, ev.Key))
		}
	}
}
