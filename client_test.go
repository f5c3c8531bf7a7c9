package aahead

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencardev/aahead/config"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/frame"
	"github.com/opencardev/aahead/tcp"
	"github.com/opencardev/aahead/transport"
)

// pipeClients builds two Clients wired back to back over an in-memory
// net.Pipe, exercising the full Transport->Messenger->Channel stack
// without any real USB or TCP hardware.
func pipeClients(t *testing.T) (*Client, *Client, func()) {
	t.Helper()
	a, b := net.Pipe()
	q := executor.NewQueue(4)

	cfg := config.New()
	clientA := newClient(q, transport.NewTCP(q, tcp.New(q, a), cfg.ReceiveTimeout(), cfg.SendTimeout()), cfg, nil)
	clientB := newClient(q, transport.NewTCP(q, tcp.New(q, b), cfg.ReceiveTimeout(), cfg.SendTimeout()), cfg, nil)

	cleanup := func() {
		clientA.Stop()
		clientB.Stop()
		q.Close()
	}
	return clientA, clientB, cleanup
}

func TestClientEndToEndPlaintextExchange(t *testing.T) {
	clientA, clientB, cleanup := pipeClients(t)
	defer cleanup()

	received := make(chan []byte, 1)
	clientB.Channel(frame.ChannelMediaAudio, HandlerFunc(func(ch frame.ChannelID, payload []byte) {
		received <- payload
	}))

	sender := clientA.Channel(frame.ChannelMediaAudio, nil)
	payload := append([]byte{0x00, 0x05}, []byte("hello")...)
	require.NoError(t, sender.Send(context.Background(), payload))

	select {
	case got := <-received:
		assert.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestClientChannelIsMemoized(t *testing.T) {
	clientA, _, cleanup := pipeClients(t)
	defer cleanup()

	c1 := clientA.Channel(frame.ChannelInput, nil)
	c2 := clientA.Channel(frame.ChannelInput, nil)
	assert.Same(t, c1, c2, "expected Channel to return the same instance for a repeated id")
}

func TestClientSendAfterStopFails(t *testing.T) {
	clientA, _, cleanup := pipeClients(t)
	defer cleanup()

	ch := clientA.Channel(frame.ChannelInput, nil)
	clientA.Stop()

	err := ch.Send(context.Background(), []byte{0x00, 0x01})
	assert.Error(t, err, "expected Send to fail after Stop")
}
