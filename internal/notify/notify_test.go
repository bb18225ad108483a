package notify

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(context.Context, Message) error {
	p.calls++
	return errors.New("stream unavailable")
}

func (p *failingPublisher) Close() error { return nil }

func TestSendSwallowsPublishErrors(t *testing.T) {
	p := &failingPublisher{}
	assert.NotPanics(t, func() {
		Send(context.Background(), p, Message{Type: TypeEventApplied, TxHash: "0xabc"})
	})
	assert.Equal(t, 1, p.calls)
}

func TestSendNilPublisher(t *testing.T) {
	assert.NotPanics(t, func() {
		Send(context.Background(), nil, Message{Type: TypePointsAwarded})
	})
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	require.NoError(t, p.Publish(context.Background(), Message{Type: TypeEventApplied}))
	require.NoError(t, p.Close())
}
