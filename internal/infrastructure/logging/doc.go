// Package logging provides the bridge's structured logger, a thin layer over
// log/slog configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Every entry carries service and version. Attributes named password, token
// or write_key are replaced with [REDACTED] whatever their value.
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("aqara-bridge").Info("gateway discovered", "sid", sid)
package logging
