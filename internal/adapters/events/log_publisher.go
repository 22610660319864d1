package events

import (
	"context"
	"log"

	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
)

type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	log.Printf("outbox publish topic=%s event_id=%s user=%s status=%s seq=%d occurred_at=%s",
		topic, event.EventID, event.UserID, event.Status, event.Seq, event.OccurredAt.Format("2006-01-02T15:04:05.999999999Z07:00"))
	return nil
}
