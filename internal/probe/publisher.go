package probe

import (
	"github.com/nats-io/nats.go"

	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/model"
)

// Publisher relays persisted flow batches to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     *logging.Logger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(url, subject string, log *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("flowtrack-collector"))
	if err != nil {
		return nil, err
	}
	log.Infow("Connected to NATS", "url", url, "subject", subject)
	return &Publisher{nc: nc, subject: subject, log: log}, nil
}

// Publish encodes records as one FlowBatch message.
func (p *Publisher) Publish(records []model.FlowRecord) error {
	if len(records) == 0 {
		return nil
	}
	return p.nc.Publish(p.subject, MarshalBatch(records))
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.log.Info("NATS connection drained and closed.")
	}
}
