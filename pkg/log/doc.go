// Package log provides qbull's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that feeds a formatter/outputs
// pipeline. Each output carries its own level floor, so console and file
// sinks can log at different verbosities.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.DebugLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput(log.DebugLevel)),
//	)
//	l = l.WithComponent("consumer")
//	l.Info("started", log.Str("stream", "Q1"))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config: overall level
// floor, console level, file level, and a log file path.
package log
