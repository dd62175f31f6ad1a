package logger

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	RequestIDHeader = "X-Request-ID"
	entryKey        = "log_entry"
)

// Logger wraps logrus with the service name attached to every entry.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a JSON logger writing to stdout.
func New(service, level string) *Logger {
	return NewWithOutput(service, level, os.Stdout)
}

func NewWithOutput(service, level string, out io.Writer) *Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return &Logger{Logger: log, service: service}
}

// Nop discards everything; used by tests.
func Nop() *Logger {
	return NewWithOutput("test", "error", io.Discard)
}

// Entry returns a base entry tagged with the service name.
func (l *Logger) Entry() *logrus.Entry {
	return l.WithField("service", l.service)
}

// Component tags entries with the emitting component.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.Entry().WithField("component", name)
}

// Middleware logs each request and stores a request-scoped entry in the gin context.
func Middleware(l *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		entry := l.Entry().WithField("request_id", requestID)
		c.Set(entryKey, entry)

		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}
		if len(c.Errors) > 0 {
			entry.WithFields(fields).WithField("error", c.Errors.String()).Error("request failed")
			return
		}
		entry.WithFields(fields).Debug("request completed")
	}
}

// FromContext returns the request-scoped entry, or a fallback when the middleware did not run.
func FromContext(c *gin.Context, fallback *Logger) *logrus.Entry {
	if v, ok := c.Get(entryKey); ok {
		if entry, ok := v.(*logrus.Entry); ok {
			return entry
		}
	}
	return fallback.Entry()
}
