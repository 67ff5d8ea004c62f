package probe

import (
	"github.com/nats-io/nats.go"

	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/model"
)

// FlowHandler processes one received batch.
type FlowHandler func(records []model.FlowRecord)

// Subscriber consumes relayed flow batches.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	log     *logging.Logger
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(url, subject string, log *logging.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(url, nats.Name("flowtrack-probe"))
	if err != nil {
		return nil, err
	}
	log.Infow("Connected to NATS", "url", url)
	return &Subscriber{nc: nc, subject: subject, log: log}, nil
}

// Start subscribes and hands every decodable batch to handler.
func (s *Subscriber) Start(handler FlowHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		records, err := UnmarshalBatch(msg.Data)
		if err != nil {
			s.log.Warnw("Dropping undecodable flow batch", "error", err, "size", len(msg.Data))
			return
		}
		handler(records)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Infow("Subscribed, waiting for flows", "subject", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.log.Info("NATS connection closed.")
	}
}
