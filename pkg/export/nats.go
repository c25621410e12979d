package export

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsOutput publishes detection records to one subject and block-list changes to another.
type NatsOutput struct {
	nc           *nats.Conn
	subject      string
	blockSubject string
}

// NewNatsOutput creates a NATS output over an existing connection.
func NewNatsOutput(nc *nats.Conn, subject, blockSubject string) *NatsOutput {
	if subject == "" {
		subject = "siem.detections"
	}
	if blockSubject == "" {
		blockSubject = "siem.blocks"
	}
	return &NatsOutput{nc: nc, subject: subject, blockSubject: blockSubject}
}

// Subject returns the subject a record kind is published on.
func (n *NatsOutput) Subject(kind string) string {
	if kind == KindBlock || kind == KindUnblock {
		return n.blockSubject
	}
	return n.subject
}

func (n *NatsOutput) Publish(_ context.Context, kind string, line []byte) error {
	return n.nc.Publish(n.Subject(kind), line)
}

// Connect dials NATS with reconnects enabled, naming the connection after the sensor.
func Connect(url, sensor string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("mini-siem "+sensor),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
