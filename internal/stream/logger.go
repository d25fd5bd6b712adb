package stream

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// loggerAdapter bridges zerolog into Watermill's LoggerAdapter.
type loggerAdapter struct {
	log zerolog.Logger
}

// NewLoggerAdapter wraps a zerolog logger for Watermill components.
func NewLoggerAdapter(log zerolog.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{log: log}
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.log.Error().Err(err), fields).Msg(msg)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.log.Info(), fields).Msg(msg)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.log.Debug(), fields).Msg(msg)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.log.Trace(), fields).Msg(msg)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &loggerAdapter{log: ctx.Logger()}
}

func (a *loggerAdapter) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
