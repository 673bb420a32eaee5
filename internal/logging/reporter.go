package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// Reporter is the sink for errors that escaped a task handler.
type Reporter interface {
	Report(ctx context.Context, err error, fields map[string]string)
}

// LogReporter reports errors as error-level log events.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter builds a Reporter on top of logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "reporter").Logger()}
}

func (r *LogReporter) Report(_ context.Context, err error, fields map[string]string) {
	if err == nil {
		return
	}
	event := r.logger.Error().Err(err).Bool("reported", true)
	for k, v := range fields {
		event = event.Str(k, v)
	}
	event.Msg("unhandled task error")
}
