// Package notify fans payment events out to other services.
package notify

import "context"

type Message struct {
	Subject string
	Payload []byte
}

type Broker interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	// Subscribe delivers until ctx is done; the channel is then closed.
	Subscribe(ctx context.Context, subjects []string) (<-chan Message, error)
	Close() error
}
