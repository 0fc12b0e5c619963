package session

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sink receives diagnostics from a Manager.
type Sink interface {
	LogLine(text string)
	PostError(origin, message string, cause error)
}

// LogSink writes diagnostics through zerolog. Every posted error gets a
// report id so client and server copies can be correlated.
type LogSink struct {
	Logger   zerolog.Logger
	ClientID string
}

func NewLogSink(logger zerolog.Logger, clientID string) *LogSink {
	return &LogSink{Logger: logger, ClientID: clientID}
}

func (s *LogSink) LogLine(text string) {
	s.Logger.Debug().Str("client", s.ClientID).Msg(text)
}

func (s *LogSink) PostError(origin, message string, cause error) {
	ev := s.Logger.Warn().
		Str("client", s.ClientID).
		Str("origin", origin).
		Str("report_id", uuid.NewString())
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg(message)
}
