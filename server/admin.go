package server

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/discoverykit/configwatch"
	"github.com/kbukum/discoverykit/discovery"
	apperrors "github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/server/endpoint"
)

// Discovery is the part of the discovery component the admin API reads.
type Discovery interface {
	Facade() *discovery.Facade
	Reconciler() *discovery.Reconciler
	Registrar() *discovery.Registrar
	Ready() bool
}

// PropertySourceProvider exposes the property sources of a config watcher.
type PropertySourceProvider interface {
	PropertySources() []configwatch.PropertySource
}

// ServiceSummary is one row of GET /v1/services.
type ServiceSummary struct {
	Name      string                 `json:"name"`
	Warm      bool                   `json:"warm"`
	Index     uint64                 `json:"index"`
	Instances int                    `json:"instances"`
	Passing   int                    `json:"passing"`
	Watch     *discovery.WatchStatus `json:"watch,omitempty"`
}

// AdminOption configures an Admin.
type AdminOption func(*Admin)

// WithPropertySources exposes config watcher state under /v1/config.
func WithPropertySources(p PropertySourceProvider) AdminOption {
	return func(a *Admin) { a.props = p }
}

// WithHealthChecker sets the component health source of /healthz.
func WithHealthChecker(h endpoint.HealthChecker) AdminOption {
	return func(a *Admin) { a.health = h }
}

// Admin serves the agent's read-mostly HTTP API.
type Admin struct {
	serviceName string
	disc        Discovery
	props       PropertySourceProvider
	health      endpoint.HealthChecker
	log         *logger.Logger
}

// NewAdmin creates the admin API over a discovery component.
func NewAdmin(serviceName string, disc Discovery, log *logger.Logger, opts ...AdminOption) *Admin {
	if log == nil {
		log = logger.Nop()
	}
	a := &Admin{
		serviceName: serviceName,
		disc:        disc,
		log:         log.WithComponent("admin"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register mounts the probe, info and /v1 routes on r.
func (a *Admin) Register(r gin.IRouter) {
	r.GET("/healthz", endpoint.Health(a.serviceName, a.health))
	r.GET("/readyz", endpoint.Readiness(a.serviceName, a.disc.Ready))
	r.GET("/livez", endpoint.Liveness(a.serviceName))
	r.GET("/info", endpoint.Info(a.serviceName))
	r.GET("/version", endpoint.Version())
	r.GET("/metrics", endpoint.Metrics(a.stats))

	v1 := r.Group("/v1")
	v1.GET("/services", a.listServices)
	v1.GET("/services/:name", a.getService)
	v1.GET("/services/:name/pick", a.pickInstance)
	v1.PUT("/watches/:name", a.addWatch)
	v1.DELETE("/watches/:name", a.removeWatch)
	v1.GET("/registration", a.getRegistration)
	v1.GET("/config", a.getConfig)
}

func (a *Admin) listServices(c *gin.Context) {
	reconciler, facade := a.disc.Reconciler(), a.disc.Facade()
	if reconciler == nil {
		RespondWithError(c, apperrors.NotReady("discovery"))
		return
	}

	watched := reconciler.Watched()
	summaries := make([]ServiceSummary, 0, len(watched))
	for _, name := range watched {
		summaries = append(summaries, a.summarize(name, reconciler, facade))
	}
	RespondOKWithMeta(c, summaries, &Meta{Total: len(summaries)})
}

func (a *Admin) summarize(name string, reconciler *discovery.Reconciler, facade *discovery.Facade) ServiceSummary {
	s := ServiceSummary{Name: name}
	if status, ok := reconciler.Status(name); ok {
		s.Watch = &status
	}
	if snap, ok := facade.Snapshot(name); ok {
		s.Warm = true
		s.Index = snap.Index
		s.Instances = snap.Len()
		s.Passing = len(facade.Resolve(name))
	}
	return s
}

func (a *Admin) getService(c *gin.Context) {
	q, ok := a.query(c)
	if !ok {
		return
	}
	instances, index, err := a.disc.Facade().ResolveWithIndex(q)
	if err != nil {
		RespondWithError(c, lookupError(q.ServiceName, err))
		return
	}
	RespondOKWithMeta(c, instances, &Meta{Total: len(instances), Index: index})
}

func (a *Admin) pickInstance(c *gin.Context) {
	q, ok := a.query(c)
	if !ok {
		return
	}
	inst, err := a.disc.Facade().PickQuery(q)
	if err != nil {
		RespondWithError(c, lookupError(q.ServiceName, err))
		return
	}
	RespondOK(c, inst)
}

// query builds a lookup from the path and the tag/warning query parameters.
// It answers 404 for services that are not watched.
func (a *Admin) query(c *gin.Context) (discovery.Query, bool) {
	name := c.Param("name")
	reconciler := a.disc.Reconciler()
	if reconciler == nil {
		RespondWithError(c, apperrors.NotReady("discovery"))
		return discovery.Query{}, false
	}
	if _, watched := reconciler.Status(name); !watched {
		RespondWithError(c, apperrors.NotFound("service", name))
		return discovery.Query{}, false
	}

	q := discovery.Query{ServiceName: name, Tags: c.QueryArray("tag")}
	if raw := c.Query("warning"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			RespondWithError(c, apperrors.InvalidConfig("warning", fmt.Sprintf("%q is not a boolean", raw)))
			return discovery.Query{}, false
		}
		q.IncludeWarning = include
	}
	return q, true
}

func lookupError(service string, err error) error {
	switch {
	case stderrors.Is(err, discovery.ErrNotWarm):
		return apperrors.NotReady(service).WithCause(err)
	case stderrors.Is(err, discovery.ErrNoHealthyInstances):
		return apperrors.New(apperrors.ErrCodeNotReady,
			fmt.Sprintf("no healthy instances of %s", service),
			http.StatusServiceUnavailable).WithDetail("service", service).WithCause(err)
	default:
		return err
	}
}

func (a *Admin) addWatch(c *gin.Context) {
	reconciler := a.disc.Reconciler()
	if reconciler == nil {
		RespondWithError(c, apperrors.NotReady("discovery"))
		return
	}
	name := c.Param("name")
	if err := reconciler.Watch(name); err != nil {
		RespondWithError(c, err)
		return
	}
	a.log.Info("watch added via admin API", logger.Fields(logger.FieldTarget, name))
	RespondAccepted(c, gin.H{"service": name})
}

func (a *Admin) removeWatch(c *gin.Context) {
	reconciler := a.disc.Reconciler()
	if reconciler == nil {
		RespondWithError(c, apperrors.NotReady("discovery"))
		return
	}
	name := c.Param("name")
	if _, watched := reconciler.Status(name); !watched {
		RespondWithError(c, apperrors.NotFound("service", name))
		return
	}
	reconciler.Unwatch(name)
	a.log.Info("watch removed via admin API", logger.Fields(logger.FieldTarget, name))
	RespondNoContent(c)
}

func (a *Admin) getRegistration(c *gin.Context) {
	registrar := a.disc.Registrar()
	if registrar == nil {
		RespondWithError(c, apperrors.NotFound("registration", ""))
		return
	}
	RespondOK(c, registrar.Record())
}

func (a *Admin) getConfig(c *gin.Context) {
	if a.props == nil {
		RespondWithError(c, apperrors.NotFound("config watcher", ""))
		return
	}
	sources := a.props.PropertySources()
	RespondOKWithMeta(c, sources, &Meta{Total: len(sources)})
}

func (a *Admin) stats() map[string]any {
	stats := map[string]any{"ready": a.disc.Ready()}
	reconciler, facade := a.disc.Reconciler(), a.disc.Facade()
	if reconciler != nil {
		watched := reconciler.Watched()
		warm := 0
		for _, name := range watched {
			if facade.IsWarm(name) {
				warm++
			}
		}
		stats["watched_services"] = len(watched)
		stats["warm_services"] = warm
	}
	if registrar := a.disc.Registrar(); registrar != nil {
		rec := registrar.Record()
		stats["registration_state"] = rec.State
		if !rec.LastHeartbeatAt.IsZero() {
			stats["last_heartbeat_age_ms"] = time.Since(rec.LastHeartbeatAt).Milliseconds()
		}
	}
	return stats
}
