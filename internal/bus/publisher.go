package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/zkconnect/zkconnect-bridge/internal/models"
)

const defaultSubjectPrefix = "attendance"

// Publisher fans captured punches out to NATS so other systems can consume
// them without touching the ingestion path.
type Publisher struct {
	nc        *nats.Conn
	machineID int
	prefix    string
	log       zerolog.Logger
}

// NewPublisher creates a punch publisher for one terminal.
func NewPublisher(nc *nats.Conn, machineID int, prefix string, logger zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	return &Publisher{
		nc:        nc,
		machineID: machineID,
		prefix:    prefix,
		log:       logger,
	}
}

// Subject returns the subject punches are published to.
func (p *Publisher) Subject() string {
	return fmt.Sprintf("%s.device.%d.punch", p.prefix, p.machineID)
}

type punchMessage struct {
	MachineID int    `json:"machineId"`
	UserID    string `json:"userId"`
	Punch     uint8  `json:"punch"`
	Status    uint8  `json:"status"`
	Timestamp string `json:"timestamp"`
}

// PublishPunch publishes one punch as JSON.
func (p *Publisher) PublishPunch(_ context.Context, ev models.PunchEvent) error {
	data, err := json.Marshal(punchMessage{
		MachineID: p.machineID,
		UserID:    ev.UserID,
		Punch:     uint8(ev.Punch),
		Status:    ev.Status,
		Timestamp: ev.TimestampUTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal punch: %w", err)
	}

	if err := p.nc.Publish(p.Subject(), data); err != nil {
		return fmt.Errorf("publish punch: %w", err)
	}

	p.log.Debug().
		Str("subject", p.Subject()).
		Str("userId", ev.UserID).
		Msg("punch published")

	return nil
}
