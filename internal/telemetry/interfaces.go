package telemetry

import (
	"log"

	"go.uber.org/zap"

	"pathpilot/logging"
)

// Logger exposes the logging capabilities required by navigation components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// NopLogger discards everything.
func NopLogger() Logger {
	return LoggerFunc(func(string, ...any) {})
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// StandardLogger exposes the wrapped logger for callers that need one.
func (l *loggerAdapter) StandardLogger() *log.Logger {
	if l == nil {
		return nil
	}
	return l.logger
}

// WrapZap adapts a zap logger to the Logger interface. Messages are written at
// info level.
func WrapZap(logger *zap.Logger) Logger {
	if logger == nil {
		return NopLogger()
	}
	return &zapAdapter{sugar: logger.Sugar()}
}

type zapAdapter struct {
	sugar *zap.SugaredLogger
}

func (z *zapAdapter) Printf(format string, args ...any) {
	z.sugar.Infof(format, args...)
}

// StandardLogger returns a log.Logger that writes through zap.
func (z *zapAdapter) StandardLogger() *log.Logger {
	return zap.NewStdLog(z.sugar.Desugar())
}

// Metrics exposes the telemetry methods required by navigation components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// WrapMetrics adapts the logging metrics registry into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}

// NopMetrics discards every update.
func NopMetrics() Metrics {
	return &metricsAdapter{}
}
