package logging

import (
	log "github.com/sirupsen/logrus"
)

// Options controls how Configure sets up a logger
type Options struct {
	// Level is parsed with logrus.ParseLevel. Invalid or empty values fall
	// back to info and are reported once the formatter is in place
	Level string

	// JSON switches to JSON output with a GCP style severity field
	JSON bool
}

// Configure applies the level and formatter from opts to logger. It is safe to
// call more than once, the severity hook is added at most once and only when
// JSON is set
func Configure(logger *log.Logger, opts Options) {
	if logger == nil {
		return
	}

	if opts.JSON {
		ConfigureLogrusJSON(logger)
	} else {
		formatter := new(log.TextFormatter)
		formatter.DisableTimestamp = true
		logger.SetFormatter(formatter)
	}

	lvl, err := log.ParseLevel(opts.Level)
	if err != nil {
		logger.SetLevel(log.InfoLevel)
		if opts.Level != "" {
			logger.WithFields(log.Fields{
				"level": opts.Level,
				"error": err,
			}).Error("couldn't parse `log` config, defaulting to `info`")
		}
		return
	}
	logger.SetLevel(lvl)
}

// ConfigureLogrusJSON sets the logger to emit JSON logs with a GCP severity
// field. A logger that already has the severity hook keeps a single one
func ConfigureLogrusJSON(logger *log.Logger) {
	if logger == nil {
		return
	}

	logger.SetFormatter(&log.JSONFormatter{})
	for _, h := range logger.Hooks[log.InfoLevel] {
		if _, ok := h.(SeverityHook); ok {
			return
		}
	}
	logger.AddHook(SeverityHook{})
}

// SeverityHook adds a GCP-compatible severity field to log entries.
type SeverityHook struct{}

func (SeverityHook) Levels() []log.Level {
	return log.AllLevels
}

func (SeverityHook) Fire(entry *log.Entry) error {
	if entry == nil {
		return nil
	}
	if _, ok := entry.Data["severity"]; ok {
		return nil
	}

	entry.Data["severity"] = severityForLevel(entry.Level)
	return nil
}

func severityForLevel(level log.Level) string {
	switch level {
	case log.PanicLevel:
		return "EMERGENCY"
	case log.FatalLevel:
		return "CRITICAL"
	case log.ErrorLevel:
		return "ERROR"
	case log.WarnLevel:
		return "WARNING"
	case log.InfoLevel:
		return "INFO"
	case log.DebugLevel, log.TraceLevel:
		return "DEBUG"
	default:
		return "DEFAULT"
	}
}
