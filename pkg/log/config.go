package log

// Config declares a logger: overall floor, per-sink floors, sink targets.
type Config struct {
	// Level is the overall floor; entries below it are dropped before any sink.
	Level string
	// ConsoleLevel is the console sink floor.
	ConsoleLevel string
	// FileLevel is the file sink floor.
	FileLevel string
	// File is the log file path. Empty disables the file sink.
	File string
	// Format selects "text" (default) or "json".
	Format string
}

// ApplyConfig builds a Logger from a declarative Config. Unknown level names
// fall back to the defaults: debug overall, debug console, info file.
func ApplyConfig(cfg Config) Logger {
	level := levelOr(cfg.Level, DebugLevel)
	consoleLevel := levelOr(cfg.ConsoleLevel, DebugLevel)
	fileLevel := levelOr(cfg.FileLevel, InfoLevel)

	var formatter Formatter = &TextFormatter{}
	if cfg.Format == "json" {
		formatter = &JSONFormatter{}
	}

	opts := []LoggerOption{
		WithLevel(level),
		WithFormatter(formatter),
		WithOutput(NewConsoleOutput(consoleLevel)),
	}
	if cfg.File != "" {
		opts = append(opts, WithOutput(NewFileOutput(cfg.File, fileLevel)))
	}
	return NewLogger(opts...)
}

func levelOr(s string, fallback Level) Level {
	if s == "" {
		return fallback
	}
	l, err := ParseLevel(s)
	if err != nil {
		return fallback
	}
	return l
}
