package events

import (
	"context"
	"strings"
)

// Conn is the subset of *nats.Conn used by NATSSink.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every event to <subject>.<queue prefix>, e.g.
// qms.tokens.A.
type NATSSink struct {
	conn    Conn
	subject string
}

func NewNATSSink(conn Conn, subject string) *NATSSink {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = "qms.tokens"
	}
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Handle(_ context.Context, event Event) error {
	payload, err := Envelope(event)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject+"."+event.Token.QueuePrefix, payload)
}
