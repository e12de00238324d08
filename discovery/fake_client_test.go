package discovery

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fetchStep is one scripted FetchCatalog answer. before runs when the call
// starts, ahead of the answer being returned.
type fetchStep struct {
	snap   CatalogSnapshot
	err    error
	before func()
}

// fakeClient is a scripted RegistryClient. Once a service's script runs out,
// FetchCatalog blocks like an idle long poll until its context ends.
type fakeClient struct {
	mu sync.Mutex

	script      map[string][]fetchStep
	fetchCalls  map[string]int
	waitIndexes map[string][]uint64

	registerErrs  []error
	registerFail  error
	registerCalls int
	registered    []ServiceInstance
	lastOpts      RegistrationOptions

	heartbeatErrs []error
	heartbeats    []HealthStatus

	deregistered []string
}

var _ RegistryClient = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		script:      make(map[string][]fetchStep),
		fetchCalls:  make(map[string]int),
		waitIndexes: make(map[string][]uint64),
	}
}

func (f *fakeClient) push(service string, steps ...fetchStep) {
	f.mu.Lock()
	f.script[service] = append(f.script[service], steps...)
	f.mu.Unlock()
}

func (f *fakeClient) Register(_ context.Context, instance ServiceInstance, opts RegistrationOptions) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	f.lastOpts = opts
	if len(f.registerErrs) > 0 {
		err := f.registerErrs[0]
		f.registerErrs = f.registerErrs[1:]
		if err != nil {
			return Ack{}, err
		}
	} else if f.registerFail != nil {
		return Ack{}, f.registerFail
	}
	f.registered = append(f.registered, instance)
	return Ack{InstanceID: instance.InstanceID, At: time.Now()}, nil
}

func (f *fakeClient) Deregister(_ context.Context, instanceID string) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered = append(f.deregistered, instanceID)
	return Ack{InstanceID: instanceID, At: time.Now()}, nil
}

func (f *fakeClient) Heartbeat(_ context.Context, _ string, status HealthStatus, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, status)
	if len(f.heartbeatErrs) > 0 {
		err := f.heartbeatErrs[0]
		f.heartbeatErrs = f.heartbeatErrs[1:]
		return err
	}
	return nil
}

func (f *fakeClient) FetchCatalog(ctx context.Context, serviceName string, waitIndex uint64, _ time.Duration) (CatalogSnapshot, error) {
	f.mu.Lock()
	f.fetchCalls[serviceName]++
	f.waitIndexes[serviceName] = append(f.waitIndexes[serviceName], waitIndex)
	steps := f.script[serviceName]
	if len(steps) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return CatalogSnapshot{}, ctx.Err()
	}
	step := steps[0]
	f.script[serviceName] = steps[1:]
	f.mu.Unlock()

	if step.before != nil {
		step.before()
	}
	if step.err != nil {
		return CatalogSnapshot{}, step.err
	}
	return step.snap, nil
}

func (f *fakeClient) calls(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[service]
}

func (f *fakeClient) registerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerCalls
}

func (f *fakeClient) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heartbeats)
}

func (f *fakeClient) deregisteredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deregistered...)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, msg string, cond func() bool) {
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

func instance(id string, health HealthStatus) ServiceInstance {
	return ServiceInstance{InstanceID: id, Address: "10.0.0.1", Port: 8080, Health: health}
}

func snapshot(index uint64, instances ...ServiceInstance) CatalogSnapshot {
	return NewSnapshot("svc", index, instances)
}

func ids(instances []ServiceInstance) []string {
	out := make([]string, len(instances))
	for i, inst := range instances {
		out[i] = inst.InstanceID
	}
	return out
}
