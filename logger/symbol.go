package logger

import (
	"go.uber.org/zap"

	"github.com/teranos/keywatch/sym"
)

// Symbol-aware logging helpers.
// The symbol travels as a structured field, not in the message, so logs stay
// queryable by subsystem.

// AddPulseSymbol attaches the pulse symbol (꩜) to a logger
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pulse)
}

// AddLockSymbol attaches the lock symbol to a logger
func AddLockSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Lock)
}

// AddDBSymbol attaches the database symbol to a logger
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.DB)
}

// PulseInfow logs an info message with the Pulse symbol on the global logger
func PulseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}
