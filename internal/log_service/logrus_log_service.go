package log_service

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusLogService binds a shared logrus logger to one component. Services
// each hold their own binding, so a single sink serves the whole process.
type LogrusLogService struct {
	logger    *logrus.Logger
	component string
}

// NewLogrusLogger builds the shared sink. Timestamps are ISO-8601 with
// millisecond precision.
func NewLogrusLogger(out io.Writer, debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func NewLogrusLogService(logger *logrus.Logger, component string) *LogrusLogService {
	return &LogrusLogService{
		logger:    logger,
		component: component,
	}
}

// WithComponent returns a service logging under a different component name
// but sharing the same sink.
func (ls *LogrusLogService) WithComponent(component string) *LogrusLogService {
	return &LogrusLogService{
		logger:    ls.logger,
		component: component,
	}
}

func (ls *LogrusLogService) Debug(event LogEvent) {
	ls.entry(event).Debug(event.Message)
}

func (ls *LogrusLogService) Info(event LogEvent) {
	ls.entry(event).Info(event.Message)
}

func (ls *LogrusLogService) Warn(event LogEvent) {
	ls.entry(event).Warn(event.Message)
}

func (ls *LogrusLogService) Error(event LogEvent) {
	ls.entry(event).Error(event.Message)
}

func (ls *LogrusLogService) entry(event LogEvent) *logrus.Entry {
	fields := logrus.Fields{}
	for k, v := range event.Metadata {
		fields[k] = v
	}
	component := event.Component
	if component == "" {
		component = ls.component
	}
	fields["component"] = component

	entry := ls.logger.WithFields(fields)
	if !event.Timestamp.IsZero() {
		entry = entry.WithTime(event.Timestamp)
	} else {
		entry = entry.WithTime(time.Now())
	}
	return entry
}
