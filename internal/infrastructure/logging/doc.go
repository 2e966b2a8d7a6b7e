// Package logging provides structured logging for the UniBus controller.
//
// It wraps log/slog so every package logs the same way: JSON in production,
// text on a bench, with service and version attached to every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	busLog := logger.Component("bus")
//	busLog.Warn("module not responding", "line", "north-wall")
//
// Bus packages accept a narrow Logger interface (Debug/Info/Warn/Error with
// key-value pairs), which *Logger satisfies through its embedded slog.Logger.
package logging
