// Package bootstrap runs the agent's lifecycle.
//
// It validates the typed config, builds the logger, starts OTLP telemetry
// when enabled, starts the registered components in order and stops them in
// reverse on SIGINT/SIGTERM.
//
// # Quick Start
//
//	app, err := bootstrap.NewApp(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app.RegisterComponent(discoveryComponent)
//	app.RegisterComponent(serverComponent)
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
