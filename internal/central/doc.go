// Package central wires the coordinator together: channel and user
// registries, the migration and party coordinators, the packet relay, the
// frame router and the WebSocket server channels connect to.
//
// Lifecycle:
//
//	c := central.New(cfg, logger)
//	c.Start(ctx)
//	http.Handle(cfg.Server.Path, c.Handler())
//	...
//	c.Shutdown(ctx) // ask every channel to shut down and wait
//	c.Stop(ctx)     // stop background loops
package central
