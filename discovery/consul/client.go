package consul

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/consul/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/discoverykit/configwatch"
	"github.com/kbukum/discoverykit/discovery"
	apperrors "github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/observability"
	"github.com/kbukum/discoverykit/version"
)

// Client implements discovery.RegistryClient on the Consul HTTP API. It also
// serves the Consul KV store as a configwatch.Source.
type Client struct {
	api    *api.Client
	cfg    Config
	log    *logger.Logger
	tracer trace.Tracer
}

func init() {
	discovery.RegisterProviderFactory("consul", func(_ discovery.Config, providerCfg any, log *logger.Logger) (discovery.RegistryClient, error) {
		var cfg Config
		switch c := providerCfg.(type) {
		case nil:
		case Config:
			cfg = c
		case *Config:
			if c != nil {
				cfg = *c
			}
		default:
			return nil, fmt.Errorf("consul: unexpected provider config %T", providerCfg)
		}
		return NewClient(cfg, log)
	})
}

// NewClient creates a Client from the given Config.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.InvalidConfig("consul", err.Error())
	}
	if log == nil {
		log = logger.Nop()
	}

	client, err := api.NewClient(cfg.apiConfig())
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	client.SetHeaders(http.Header{"User-Agent": []string{version.Get().UserAgent("consul")}})

	return &Client{
		api:    client,
		cfg:    cfg,
		log:    log.WithComponent("consul"),
		tracer: observability.Tracer("discoverykit/consul"),
	}, nil
}

// API returns the underlying Consul API client.
func (c *Client) API() *api.Client { return c.api }

// Register registers the instance with the local agent, attaching a TTL check
// when opts.CheckTTL is set.
func (c *Client) Register(ctx context.Context, instance discovery.ServiceInstance, opts discovery.RegistrationOptions) (discovery.Ack, error) {
	ctx, span := c.tracer.Start(ctx, "consul.register", trace.WithAttributes(
		attribute.String("service.name", instance.ServiceName),
		attribute.String("service.instance.id", instance.InstanceID),
	))
	defer span.End()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	reg := &api.AgentServiceRegistration{
		ID:      instance.InstanceID,
		Name:    instance.ServiceName,
		Address: instance.Address,
		Port:    instance.Port,
		Tags:    instance.Tags,
		Meta:    instance.Metadata,
	}
	if instance.Weight > 0 {
		reg.Weights = &api.AgentWeights{Passing: instance.Weight, Warning: 1}
	}
	if opts.CheckTTL > 0 {
		checkID := opts.CheckID
		if checkID == "" {
			checkID = discovery.CheckIDFor(instance.InstanceID)
		}
		reg.Check = &api.AgentServiceCheck{
			CheckID: checkID,
			Name:    fmt.Sprintf("Service '%s' TTL", instance.ServiceName),
			TTL:     opts.CheckTTL.String(),
		}
		if opts.DeregisterAfter > 0 {
			reg.Check.DeregisterCriticalServiceAfter = opts.DeregisterAfter.String()
		}
	}

	if err := c.api.Agent().ServiceRegisterOpts(reg, api.ServiceRegisterOpts{}.WithContext(ctx)); err != nil {
		return discovery.Ack{}, c.fail(span, "register", err)
	}

	c.log.Info("service registered", logger.Fields(
		logger.FieldInstanceID, instance.InstanceID,
		"address", instance.Address,
		"port", instance.Port,
	))
	return discovery.Ack{InstanceID: instance.InstanceID, At: time.Now()}, nil
}

// Deregister removes the instance from the local agent. An instance the
// agent does not know is acknowledged.
func (c *Client) Deregister(ctx context.Context, instanceID string) (discovery.Ack, error) {
	ctx, span := c.tracer.Start(ctx, "consul.deregister", trace.WithAttributes(
		attribute.String("service.instance.id", instanceID),
	))
	defer span.End()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	err := c.api.Agent().ServiceDeregisterOpts(instanceID, c.queryOptions(ctx, 0, 0))
	var statusErr api.StatusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound) {
		return discovery.Ack{}, c.fail(span, "deregister", err)
	}

	c.log.Info("service deregistered", logger.Fields(logger.FieldInstanceID, instanceID))
	return discovery.Ack{InstanceID: instanceID, At: time.Now()}, nil
}

// Heartbeat updates a TTL check.
func (c *Client) Heartbeat(ctx context.Context, checkID string, status discovery.HealthStatus, note string) error {
	ctx, span := c.tracer.Start(ctx, "consul.heartbeat", trace.WithAttributes(
		attribute.String("consul.check.id", checkID),
		attribute.String("consul.check.status", string(status)),
	))
	defer span.End()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	if err := c.api.Agent().UpdateTTLOpts(checkID, note, ttlStatus(status), c.queryOptions(ctx, 0, 0)); err != nil {
		return c.fail(span, "heartbeat", err)
	}
	return nil
}

// FetchCatalog runs a blocking health query for a service. Instances are
// returned whatever their health; the cache decides what to serve.
func (c *Client) FetchCatalog(ctx context.Context, serviceName string, waitIndex uint64, waitTime time.Duration) (discovery.CatalogSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "consul.fetch_catalog", trace.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.Int64("consul.wait_index", int64(waitIndex)),
	))
	defer span.End()

	entries, meta, err := c.api.Health().Service(serviceName, "", false, c.queryOptions(ctx, waitIndex, waitTime))
	if err != nil {
		return discovery.CatalogSnapshot{}, c.fail(span, "fetch catalog", err)
	}
	if meta == nil || meta.LastIndex == 0 {
		return discovery.CatalogSnapshot{}, c.fail(span, "fetch catalog",
			apperrors.InvalidResponse("missing X-Consul-Index", nil))
	}

	instances := make([]discovery.ServiceInstance, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Service == nil {
			continue
		}
		addr := e.Service.Address
		if addr == "" && e.Node != nil {
			addr = e.Node.Address
		}
		instances = append(instances, discovery.ServiceInstance{
			ServiceName: serviceName,
			InstanceID:  e.Service.ID,
			Address:     addr,
			Port:        e.Service.Port,
			Tags:        e.Service.Tags,
			Metadata:    e.Service.Meta,
			Health:      discovery.ParseHealthStatus(e.Checks.AggregatedStatus()),
			Weight:      e.Service.Weights.Passing,
		})
	}

	span.SetAttributes(
		attribute.Int64("consul.last_index", int64(meta.LastIndex)),
		attribute.Int("service.instances", len(instances)),
	)
	return discovery.NewSnapshot(serviceName, meta.LastIndex, instances), nil
}

// Key implements configwatch.Source with a blocking KV read of one key.
func (c *Client) Key(ctx context.Context, key string, waitIndex uint64, waitTime time.Duration) (configwatch.Result, error) {
	ctx, span := c.tracer.Start(ctx, "consul.kv.get", trace.WithAttributes(attribute.String("consul.kv.key", key)))
	defer span.End()

	pair, meta, err := c.api.KV().Get(key, c.queryOptions(ctx, waitIndex, waitTime))
	if err != nil {
		return configwatch.Result{}, c.fail(span, "kv get", err)
	}
	res := configwatch.Result{Index: lastIndex(meta)}
	if pair != nil {
		res.Pairs = []configwatch.Pair{{Key: pair.Key, Value: pair.Value}}
	}
	return res, nil
}

// Prefix implements configwatch.Source with a blocking KV list.
func (c *Client) Prefix(ctx context.Context, prefix string, waitIndex uint64, waitTime time.Duration) (configwatch.Result, error) {
	ctx, span := c.tracer.Start(ctx, "consul.kv.list", trace.WithAttributes(attribute.String("consul.kv.prefix", prefix)))
	defer span.End()

	pairs, meta, err := c.api.KV().List(prefix, c.queryOptions(ctx, waitIndex, waitTime))
	if err != nil {
		return configwatch.Result{}, c.fail(span, "kv list", err)
	}
	res := configwatch.Result{Index: lastIndex(meta), Pairs: make([]configwatch.Pair, 0, len(pairs))}
	for _, p := range pairs {
		if p == nil {
			continue
		}
		res.Pairs = append(res.Pairs, configwatch.Pair{Key: p.Key, Value: p.Value})
	}
	return res, nil
}

func (c *Client) queryOptions(ctx context.Context, waitIndex uint64, waitTime time.Duration) *api.QueryOptions {
	q := &api.QueryOptions{
		WaitIndex:  waitIndex,
		WaitTime:   waitTime,
		AllowStale: c.cfg.Stale,
	}
	return q.WithContext(ctx)
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// fail maps err onto the registry error taxonomy and records it on the span.
func (c *Client) fail(span trace.Span, operation string, err error) error {
	mapped := classify(operation, c.cfg.Address, err)
	span.RecordError(mapped)
	span.SetStatus(codes.Error, operation)
	c.log.Debug("consul call failed", logger.ErrorFields(operation, mapped))
	return mapped
}

// classify maps Consul API errors. Status errors become SERVER_ERROR; only
// 5xx and 429 answers are worth retrying.
func classify(operation, target string, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		appErr := apperrors.ServerError(statusErr.Code, statusErr.Body)
		appErr.Retryable = statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
		return appErr.WithCause(err)
	}
	return apperrors.Classify(operation, target, err)
}

func ttlStatus(status discovery.HealthStatus) string {
	switch status {
	case discovery.HealthPassing:
		return api.HealthPassing
	case discovery.HealthWarning:
		return api.HealthWarning
	default:
		return api.HealthCritical
	}
}

func lastIndex(meta *api.QueryMeta) uint64 {
	if meta == nil {
		return 0
	}
	return meta.LastIndex
}

var (
	_ discovery.RegistryClient = (*Client)(nil)
	_ configwatch.Source       = (*Client)(nil)
)
