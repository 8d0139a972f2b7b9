package ldap

import (
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Logger interface for directory operations.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)
}

// LoggerOptions configures the root logger.
type LoggerOptions struct {
	Level  string    // trace, debug, info, warn, error
	JSON   bool      // emit one JSON object per line
	Output io.Writer // defaults to stderr
}

// HCLogger adapts an hclog.Logger to the field-map Logger interface.
type HCLogger struct {
	logger hclog.Logger
}

// NewLogger creates the root logger for the service.
func NewLogger(name string, opts LoggerOptions) *HCLogger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return &HCLogger{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:       name,
			Level:      level,
			JSONFormat: opts.JSON,
			Output:     output,
		}),
	}
}

// NewNullLogger returns a logger that discards everything. Used in tests.
func NewNullLogger() *HCLogger {
	return &HCLogger{logger: hclog.NewNullLogger()}
}

// Named returns a sub-logger for one subsystem (sync, server, dingtalk, ...).
func (l *HCLogger) Named(subsystem string) *HCLogger {
	return &HCLogger{logger: l.logger.Named(subsystem)}
}

// StandardLogger exposes the underlying hclog.Logger for libraries that need it.
func (l *HCLogger) StandardLogger() hclog.Logger {
	return l.logger
}

func (l *HCLogger) Debug(msg string, fields map[string]any) {
	l.logger.Debug(msg, toArgs(fields)...)
}

func (l *HCLogger) Info(msg string, fields map[string]any) {
	l.logger.Info(msg, toArgs(fields)...)
}

func (l *HCLogger) Warn(msg string, fields map[string]any) {
	l.logger.Warn(msg, toArgs(fields)...)
}

func (l *HCLogger) Error(msg string, fields map[string]any) {
	l.logger.Error(msg, toArgs(fields)...)
}

func (l *HCLogger) Trace(msg string, fields map[string]any) {
	l.logger.Trace(msg, toArgs(fields)...)
}

// toArgs flattens a sanitized field map into hclog key/value pairs in a
// stable key order.
func toArgs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}

	sanitized := SanitizeFields(fields)
	keys := slices.Sorted(maps.Keys(sanitized))

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, sanitized[k])
	}
	return args
}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(logger Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	entryFields := make(map[string]any, len(fields)+1)
	maps.Copy(entryFields, fields)
	entryFields["operation"] = operation

	logger.Debug("Starting operation", entryFields)

	err := fn()

	exitFields := make(map[string]any, len(entryFields)+2)
	maps.Copy(exitFields, entryFields)
	exitFields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		exitFields["error"] = err.Error()
		logger.Error("Operation failed", exitFields)
	} else {
		logger.Debug("Operation completed successfully", exitFields)
	}

	return err
}

// LogPerformance logs performance metrics for an operation.
func LogPerformance(logger Logger, operation string, duration time.Duration, fields map[string]any) {
	out := make(map[string]any, len(fields)+2)
	maps.Copy(out, fields)
	out["operation"] = operation
	out["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		logger.Warn("Slow operation detected", out)
	case duration > time.Second:
		logger.Info("Operation performance", out)
	default:
		logger.Debug("Operation performance", out)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":     true,
		"passwd":       true,
		"userpassword": true,
		"secret":       true,
		"app_secret":   true,
		"otpsecret":    true,
		"token":        true,
		"access_token": true,
		"credential":   true,
		"credentials":  true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"access_token=",
		"{ssha256}",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}
