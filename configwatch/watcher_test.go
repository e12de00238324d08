package configwatch

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// memorySource is an in-memory Source with blocking reads.
type memorySource struct {
	mu      sync.Mutex
	data    map[string][]byte
	index   uint64
	changed chan struct{}
	failing int
}

func newMemorySource() *memorySource {
	return &memorySource{data: make(map[string][]byte), index: 1, changed: make(chan struct{})}
}

func (m *memorySource) put(key, value string) {
	m.mu.Lock()
	m.data[key] = []byte(value)
	m.index++
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

func (m *memorySource) remove(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.index++
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

func (m *memorySource) Key(ctx context.Context, key string, waitIndex uint64, waitTime time.Duration) (Result, error) {
	return m.read(ctx, waitIndex, waitTime, func(k string) bool { return k == key })
}

func (m *memorySource) Prefix(ctx context.Context, prefix string, waitIndex uint64, waitTime time.Duration) (Result, error) {
	return m.read(ctx, waitIndex, waitTime, func(k string) bool { return strings.HasPrefix(k, prefix) })
}

func (m *memorySource) read(ctx context.Context, waitIndex uint64, waitTime time.Duration, match func(string) bool) (Result, error) {
	timeout := time.After(waitTime)
	for {
		m.mu.Lock()
		if m.failing > 0 {
			m.failing--
			m.mu.Unlock()
			return Result{}, errors.New("connection refused")
		}
		if waitIndex == 0 || m.index > waitIndex {
			res := Result{Index: m.index}
			for k, v := range m.data {
				if match(k) {
					res.Pairs = append(res.Pairs, Pair{Key: k, Value: v})
				}
			}
			m.mu.Unlock()
			return res, nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-changed:
		case <-timeout:
			waitIndex = 0
		}
	}
}

func startWatcher(t *testing.T, src Source, cfg Config, service string) *Watcher {
	t.Helper()
	cfg.WaitTime = time.Second
	cfg.Backoff.Initial = time.Millisecond
	cfg.Backoff.Max = 2 * time.Millisecond
	w := NewWatcher(src, cfg, service, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
	})
	return w
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func nextEvent(t *testing.T, ch <-chan RefreshEvent) RefreshEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no refresh event")
		return RefreshEvent{}
	}
}

func TestConfig_Keys(t *testing.T) {
	cfg := Config{Path: "settings", Profiles: []string{"dev"}}
	cfg.ApplyDefaults()

	want := []string{
		"settings/application",
		"settings/billing",
		"settings/application,dev",
		"settings/billing,dev",
	}
	if got := cfg.Keys("billing"); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := cfg.SourceName("settings/billing,dev"); got != "billing[dev]" {
		t.Errorf("unexpected source name %q", got)
	}
	if got := cfg.SourceName("settings/application"); got != "application" {
		t.Errorf("unexpected source name %q", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Enabled: true, Format: "toml"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "config_watch.format") {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestNativeWatcher_PublishesPreviousValues(t *testing.T) {
	src := newMemorySource()
	src.put("config/billing/timeout", "30s")
	src.put("config/billing/retries", "3")
	src.put("config/billing,dev/timeout", "1s")

	w := startWatcher(t, src, Config{}, "billing")
	events, cancel := w.Subscribe(4)
	defer cancel()

	waitFor(t, "initial load", func() bool { return len(w.PropertySources()) == 2 })
	if v, _ := w.Get("timeout"); v != "30s" {
		t.Errorf("expected profile key not to leak, got %v", v)
	}

	src.put("config/billing/timeout", "45s")
	ev := nextEvent(t, events)
	if ev.Key != "config/billing" || ev.Source != "billing" {
		t.Errorf("unexpected event origin %+v", ev)
	}
	if ev.Changes["timeout"] != "30s" || len(ev.Changes) != 1 {
		t.Errorf("expected previous value 30s, got %v", ev.Changes)
	}

	src.put("config/billing/pool", "8")
	ev = nextEvent(t, events)
	if v, ok := ev.Changes["pool"]; !ok || v != nil {
		t.Errorf("expected added key to map to nil, got %v", ev.Changes)
	}

	src.remove("config/billing/retries")
	ev = nextEvent(t, events)
	if ev.Changes["retries"] != "3" {
		t.Errorf("expected removed key to carry its previous value, got %v", ev.Changes)
	}
	if _, ok := w.Get("retries"); ok {
		t.Error("expected retries to be gone")
	}
}

func TestWatcher_PrecedenceFollowsKeyOrder(t *testing.T) {
	src := newMemorySource()
	src.put("config/application/timeout", "10s")
	src.put("config/application/region", "eu")
	src.put("config/billing/timeout", "20s")
	src.put("config/billing,dev/timeout", "1s")

	w := startWatcher(t, src, Config{Profiles: []string{"dev"}}, "billing")
	waitFor(t, "all sources", func() bool { return len(w.PropertySources()) == 4 })

	props := w.Properties()
	if props["timeout"] != "1s" || props["region"] != "eu" {
		t.Errorf("unexpected effective properties %v", props)
	}
	sources := w.PropertySources()
	if sources[0].Name != "application" || sources[3].Name != "billing[dev]" {
		t.Errorf("unexpected source order %+v", sources)
	}
}

func TestYAMLWatcher_FlattensAndRejectsTypeSwitch(t *testing.T) {
	src := newMemorySource()
	src.put("config/billing", "server:\n  port: 8080\n  debug: false\nratio: 1\n")

	w := startWatcher(t, src, Config{Format: FormatYAML}, "billing")
	events, cancel := w.Subscribe(4)
	defer cancel()
	waitFor(t, "initial load", func() bool { _, ok := w.Get("server.port"); return ok })

	// An int to float switch is accepted.
	src.put("config/billing", "server:\n  port: 8080\n  debug: false\nratio: 1.5\n")
	ev := nextEvent(t, events)
	if ev.Changes["ratio"] != 1 {
		t.Errorf("expected previous ratio 1, got %v", ev.Changes)
	}

	// A bool to string switch is rejected and the state kept.
	src.put("config/billing", "server:\n  port: 8080\n  debug: maybe\nratio: 1.5\n")
	select {
	case ev := <-events:
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if v, _ := w.Get("server.debug"); v != false {
		t.Errorf("expected debug to stay false, got %v", v)
	}
}

func TestWatcher_RetriesAfterErrors(t *testing.T) {
	src := newMemorySource()
	src.failing = 3
	src.put("config/application/feature", "on")

	w := startWatcher(t, src, Config{}, "")
	waitFor(t, "load after failures", func() bool { v, _ := w.Get("feature"); return v == "on" })
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	w := NewWatcher(newMemorySource(), Config{WaitTime: time.Second}, "billing", nil)
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestDifference(t *testing.T) {
	prev := Properties{"a": "1", "b": "2"}
	next := Properties{"a": "1", "b": "3", "c": "4"}
	changes := difference(prev, next)
	if len(changes) != 2 || changes["b"] != "2" || changes["c"] != nil {
		t.Errorf("unexpected changes %v", changes)
	}
	if len(difference(prev, prev)) != 0 {
		t.Error("expected no changes")
	}
}
