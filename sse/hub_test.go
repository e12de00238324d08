package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/discovery/static"
	"github.com/kbukum/discoverykit/resilience"
)

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"", "service:billing", true},
		{"*", "config:config/application", true},
		{"service:*", "service:billing", true},
		{"service:*", "config:config/billing", false},
		{"service:billing", "service:billing", true},
		{"service:billing", "service:billing-v2", false},
		{"config:config/*", "config:config/billing,prod", true},
	}
	for _, tc := range tests {
		if got := MatchTopic(tc.filter, tc.topic); got != tc.want {
			t.Errorf("MatchTopic(%q, %q): expected %v, got %v", tc.filter, tc.topic, tc.want, got)
		}
	}
}

func TestClient_SendDropsWhenFull(t *testing.T) {
	client := NewClient("c1", "*")
	for i := 0; i < clientBuffer; i++ {
		if !client.Send(Event{ID: uint64(i)}) {
			t.Fatalf("expected send %d to succeed", i)
		}
	}
	if client.Send(Event{}) {
		t.Error("expected send to fail when the buffer is full")
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := startHub(t)
	client := NewClient("c1", "*")

	if !hub.Register(client) {
		t.Fatal("expected register to succeed")
	}
	waitFor(t, "client registered", func() bool { return hub.ClientCount() == 1 })
	if hub.Client("c1") != client {
		t.Error("expected client to be retrievable by ID")
	}

	hub.Unregister(client)
	waitFor(t, "client unregistered", func() bool { return hub.ClientCount() == 0 })
	if _, open := <-client.Events(); open {
		t.Error("expected events channel to be closed")
	}
}

func TestHub_PublishRoutesByTopic(t *testing.T) {
	hub := startHub(t)
	billing := NewClient("billing", ServiceTopic("billing"))
	all := NewClient("all", "*")
	hub.Register(billing)
	hub.Register(all)
	waitFor(t, "clients registered", func() bool { return hub.ClientCount() == 2 })

	hub.Publish(EventTypeConfigRefreshed, ConfigTopic("config/application"), nil)
	hub.Publish(EventTypeServiceChanged, ServiceTopic("billing"), "payload")

	if ev := receive(t, all); ev.Type != EventTypeConfigRefreshed {
		t.Errorf("expected config event first, got %s", ev.Type)
	}
	ev := receive(t, billing)
	if ev.Type != EventTypeServiceChanged || ev.Data != "payload" {
		t.Errorf("expected the billing change only, got %+v", ev)
	}
	if ev.ID != 2 {
		t.Errorf("expected sequence ID 2, got %d", ev.ID)
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	client := NewClient("c1", "*")
	hub.Register(client)

	hub.Stop()
	hub.Stop()

	select {
	case _, open := <-client.Events():
		if open {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected client closed on stop")
	}
	if hub.Register(NewClient("c2", "*")) {
		t.Error("expected register to fail after stop")
	}
	hub.Publish(EventTypeServiceChanged, "service:x", nil)
}

func TestComponent_Lifecycle(t *testing.T) {
	trigger := make(chan struct{})
	feed := func(ctx context.Context, pub Publisher) {
		select {
		case <-trigger:
			pub.Publish(EventTypeServiceChanged, ServiceTopic("billing"), nil)
		case <-ctx.Done():
		}
		<-ctx.Done()
	}
	comp := NewComponent("/v1/events", nil, feed)
	if comp.Name() != "events" {
		t.Errorf("expected name 'events', got %q", comp.Name())
	}

	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	client := NewClient("c1", "*")
	comp.Hub().Register(client)
	waitFor(t, "client registered", func() bool { return comp.Hub().ClientCount() == 1 })

	if h := comp.Health(ctx); !strings.Contains(h.Message, "1 clients") {
		t.Errorf("expected '1 clients' in message, got %q", h.Message)
	}

	close(trigger)
	if ev := receive(t, client); ev.Topic != "service:billing" {
		t.Errorf("expected feed event, got %+v", ev)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := comp.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := comp.Stop(stopCtx); err != nil {
		t.Errorf("expected second Stop to be a no-op, got %v", err)
	}
}

func TestComponent_Describe(t *testing.T) {
	desc := NewComponent("/v1/events", nil, func(context.Context, Publisher) {}).Describe()
	if desc.Type != "sse" {
		t.Errorf("expected type 'sse', got %q", desc.Type)
	}
	if !strings.Contains(desc.Details, "/v1/events") || !strings.Contains(desc.Details, "feeds=1") {
		t.Errorf("unexpected details %q", desc.Details)
	}
}

func TestDiscoveryFeed(t *testing.T) {
	provider := static.NewProvider(nil, nil)
	cache := discovery.NewInstanceCache(time.Minute, 0)
	backoff := resilience.BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	r := discovery.NewReconciler(provider, cache,
		discovery.WatchConfig{Services: []string{"billing"}, PollTimeout: 50 * time.Millisecond}, backoff, nil, nil)

	comp := NewComponent("/v1/events", nil, DiscoveryFeed(func() *discovery.Reconciler { return r }, 8))
	client := NewClient("c1", "service:*")
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("reconciler start: %v", err)
	}
	defer r.Stop(ctx)
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer comp.Stop(ctx)
	comp.Hub().Register(client)

	// The feed subscribes asynchronously; keep changing the catalog until
	// an event comes through.
	deadline := time.Now().Add(2 * time.Second)
	for i := 0; time.Now().Before(deadline); i++ {
		provider.SetInstances("billing", []discovery.ServiceInstance{
			{InstanceID: fmt.Sprintf("b%d", i), Address: "10.0.0.1", Port: 8080, Health: discovery.HealthPassing},
		})
		select {
		case ev := <-client.Events():
			change, ok := ev.Data.(ServiceChange)
			if ev.Type != EventTypeServiceChanged || !ok || change.Service != "billing" {
				t.Fatalf("unexpected event %+v", ev)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("no service change event received")
}

func TestHandler_StreamsMatchingEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := startHub(t)
	engine := gin.New()
	engine.GET("/v1/events", Handler(hub, time.Minute))
	srv := httptest.NewServer(engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/v1/events?topic=service:billing", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var eventType, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				return eventType, data
			case strings.HasPrefix(line, "event: "):
				eventType = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	if typ, _ := readEvent(); typ != EventTypeConnected {
		t.Fatalf("expected connected event, got %q", typ)
	}
	waitFor(t, "client registered", func() bool { return hub.ClientCount() == 1 })

	hub.Publish(EventTypeConfigRefreshed, ConfigTopic("config/application"), nil)
	hub.Publish(EventTypeServiceChanged, ServiceTopic("billing"), ServiceChange{Service: "billing", Index: 4})

	typ, data := readEvent()
	if typ != EventTypeServiceChanged {
		t.Fatalf("expected service.changed, got %q", typ)
	}
	var ev struct {
		Topic string        `json:"topic"`
		Data  ServiceChange `json:"data"`
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Topic != "service:billing" || ev.Data.Index != 4 {
		t.Errorf("unexpected event %+v", ev)
	}
}
