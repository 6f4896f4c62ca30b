package events

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Logger log.FieldLogger
}

func (p LogPublisher) Publish(_ context.Context, kind Kind, payload any) error {
	logger := p.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{"event": string(kind), "payload": payload}).Info("event published")
	return nil
}
