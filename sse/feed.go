package sse

import (
	"context"
	"time"

	"github.com/kbukum/discoverykit/configwatch"
	"github.com/kbukum/discoverykit/discovery"
)

// Feed forwards events from one source to pub until ctx ends or the source
// closes.
type Feed func(ctx context.Context, pub Publisher)

// ServiceChange is the payload of a service.changed event.
type ServiceChange struct {
	Service string                      `json:"service"`
	Index   uint64                      `json:"index"`
	Initial bool                        `json:"initial"`
	Added   []discovery.ServiceInstance `json:"added,omitempty"`
	Removed []discovery.ServiceInstance `json:"removed,omitempty"`
	Changed []discovery.ServiceInstance `json:"changed,omitempty"`
	At      time.Time                   `json:"at"`
}

// ConfigRefresh is the payload of a config.refreshed event.
type ConfigRefresh struct {
	Key     string         `json:"key"`
	Source  string         `json:"source"`
	Index   uint64         `json:"index"`
	Changes map[string]any `json:"changes"`
	At      time.Time      `json:"at"`
}

// DiscoveryFeed publishes the change events of the reconciler returned by
// reconciler. The getter is called when the feed starts, so it may point at
// a component started earlier in the same registry.
func DiscoveryFeed(reconciler func() *discovery.Reconciler, buffer int) Feed {
	return func(ctx context.Context, pub Publisher) {
		r := reconciler()
		if r == nil {
			return
		}
		events, cancel := r.Subscribe(buffer)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				pub.Publish(EventTypeServiceChanged, ServiceTopic(ev.Service), ServiceChange{
					Service: ev.Service,
					Index:   ev.Index,
					Initial: ev.Initial,
					Added:   ev.Added,
					Removed: ev.Removed,
					Changed: ev.Changed,
					At:      ev.At,
				})
			}
		}
	}
}

// ConfigFeed publishes the refresh events of a config watcher.
func ConfigFeed(w *configwatch.Watcher, buffer int) Feed {
	return func(ctx context.Context, pub Publisher) {
		events, cancel := w.Subscribe(buffer)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				pub.Publish(EventTypeConfigRefreshed, ConfigTopic(ev.Key), ConfigRefresh(ev))
			}
		}
	}
}
