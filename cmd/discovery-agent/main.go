// Command discovery-agent keeps a local, health-filtered view of the
// services it watches, registers itself with the registry, follows KV
// configuration and serves all of it over an admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kbukum/discoverykit/bootstrap"
	"github.com/kbukum/discoverykit/config"
	"github.com/kbukum/discoverykit/configwatch"
	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/discovery/consul"
	_ "github.com/kbukum/discoverykit/discovery/static"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/observability"
	"github.com/kbukum/discoverykit/server"
	"github.com/kbukum/discoverykit/sse"
	"github.com/kbukum/discoverykit/version"
)

const serviceName = "discovery-agent"

func main() {
	var (
		configFile = flag.String("config", "", "path to the config file")
		envFile    = flag.String("env", "", "path to a .env file")
		check      = flag.Bool("check", false, "start, wait until every watched service is warm, then exit")
		checkWait  = flag.Duration("check-timeout", 30*time.Second, "how long -check waits")
		showVer    = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(version.Get().String())
		return
	}

	if err := run(*configFile, *envFile, *check, *checkWait); err != nil {
		logger.Error("discovery-agent failed", logger.Fields(logger.FieldError, err.Error()))
		os.Exit(1)
	}
}

func run(configFile, envFile string, check bool, checkWait time.Duration) error {
	var cfg AgentConfig
	opts := []config.LoaderOption{config.WithEnvPrefix("AGENT")}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return err
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}
	if err := wire(app); err != nil {
		return err
	}

	ctx := context.Background()
	if check {
		return app.RunTask(ctx, func(ctx context.Context) error {
			return waitWarm(ctx, app, checkWait)
		})
	}
	return app.Run(ctx)
}

// wire builds and registers the agent's components. Registration order is
// start order: discovery, config watch, event stream, admin server.
func wire(app *bootstrap.App[*AgentConfig]) error {
	cfg := app.Cfg
	log := app.Logger

	metrics, err := observability.NewDiscoveryMetrics(observability.Meter("discoverykit/discovery"))
	if err != nil {
		return err
	}
	discOpts := []discovery.ComponentOption{discovery.WithMetrics(metrics)}

	var source configwatch.Source
	if cfg.usesConsul() {
		client, err := consul.NewClient(cfg.Consul, log)
		if err != nil {
			return err
		}
		discOpts = append(discOpts, discovery.WithClient(client))
		source = client
	}

	disc := discovery.NewComponent(cfg.Discovery, cfg.Consul, log, discOpts...)
	watch := configwatch.NewComponent(source, cfg.ConfigWatch, cfg.Name, log)

	if err := app.RegisterComponent(disc); err != nil {
		return err
	}
	if err := app.RegisterComponent(watch); err != nil {
		return err
	}

	var events *sse.Component
	if cfg.Events.Enabled {
		feeds := []sse.Feed{sse.DiscoveryFeed(disc.Reconciler, cfg.Events.Buffer)}
		if cfg.ConfigWatch.Enabled {
			feeds = append(feeds, sse.ConfigFeed(watch.Watcher(), cfg.Events.Buffer))
		}
		events = sse.NewComponent(cfg.Events.Path, log, feeds...)
		if err := app.RegisterComponent(events); err != nil {
			return err
		}
	}

	if !cfg.Server.Enabled {
		return nil
	}
	srv := server.New(cfg.Server, log)
	srv.ApplyMiddleware()

	adminOpts := []server.AdminOption{server.WithHealthChecker(app.Components.HealthAll)}
	if cfg.ConfigWatch.Enabled {
		adminOpts = append(adminOpts, server.WithPropertySources(watch.Watcher()))
	}
	server.NewAdmin(cfg.Name, disc, log, adminOpts...).Register(srv.GinEngine())
	if events != nil {
		srv.GinEngine().GET(cfg.Events.Path, sse.Handler(events.Hub(), cfg.Events.KeepAlive))
	}
	return app.RegisterComponent(server.NewComponent(srv))
}

// waitWarm polls until every watched service has a snapshot.
func waitWarm(ctx context.Context, app *bootstrap.App[*AgentConfig], timeout time.Duration) error {
	disc, ok := app.Components.Get("discovery").(*discovery.Component)
	if !ok {
		return fmt.Errorf("discovery component not registered")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if disc.Ready() {
			app.Logger.Info("All watched services are warm")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("services not warm after %s: %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
