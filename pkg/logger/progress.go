package logger

import (
	"time"
)

// OperationLogger logs the lifecycle of a single multi-step operation
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, l Logger) *OperationLogger {
	ol := &OperationLogger{
		logger:    OrGlobal(l),
		operation: operation,
		fields:    Fields{"operation": operation},
		startTime: time.Now(),
	}

	ol.logger.WithFields(ol.fields).Debug("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string, extra Fields) {
	ol.entry(extra).WithField("step", step).Debug("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string, extra Fields) {
	ol.entry(extra).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Failure completes the operation with an error
func (ol *OperationLogger) Failure(err error, message string) {
	ol.entry(nil).WithError(err).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}).Error(message)
}

// Elapsed returns the time since the operation started
func (ol *OperationLogger) Elapsed() time.Duration {
	return time.Since(ol.startTime)
}

func (ol *OperationLogger) entry(extra Fields) Logger {
	merged := make(Fields, len(ol.fields)+len(extra))
	for k, v := range ol.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return ol.logger.WithFields(merged)
}
