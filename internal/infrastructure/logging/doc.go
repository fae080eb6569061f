// Package logging provides structured logging for PI Monitor Core.
//
// It wraps log/slog so every component logs with the same default
// fields (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/pimonitor/core.log"
//	    max_size: 50     # megabytes before rotation
//	    max_backups: 3
//	    max_age: 28      # days
//
// File output is rotated by lumberjack.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device connected", "host_id", hostID)
//
// Never log the JWT secret or issued tokens.
package logging
