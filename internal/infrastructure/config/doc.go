// Package config reads the monitor's YAML configuration.
//
// Load fills defaults first, then the file, then PIMONITOR_* environment
// overrides, and finally validates the result. A missing file is an error;
// a missing section keeps its defaults.
//
// Durations under supervisor and actions are Go duration strings ("500ms",
// "30s"). API and WebSocket timeouts stay plain seconds.
//
// Keep the JWT secret out of the file where possible and set
// PIMONITOR_JWT_SECRET instead.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//		return err
//	}
//	reg.UpsertFromDiscovery(cfg.Discovery.Host, "")
package config
