package subs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/session"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/transport"
)

func TestRouter_ReplayOnReady(t *testing.T) {
	sender := &fakeSender{connected: false}
	reg := newTestRegistry(sender)

	require.NoError(t, reg.Subscribe(protocol.ChannelVI, protocol.AllSymbols,
		func(env *protocol.Envelope) {}))

	events := make(chan session.Event, 4)
	messages := make(chan transport.Message, 4)
	router := NewRouter(reg, events, messages, nil)

	require.NoError(t, router.Start(context.Background()))
	defer router.Stop(context.Background())

	sender.connected = true
	events <- session.Event{Type: session.EventReady}

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1
	}, time.Second, 10*time.Millisecond, "ready event must replay subscriptions")
}

func TestRouter_ReplayOnReconnect(t *testing.T) {
	sender := &fakeSender{connected: true}
	reg := newTestRegistry(sender)

	require.NoError(t, reg.Subscribe(protocol.ChannelVI, protocol.AllSymbols,
		func(env *protocol.Envelope) {}))
	require.NoError(t, reg.Subscribe(protocol.ChannelTradeKOSPI, "005930",
		func(env *protocol.Envelope) {}))
	sender.reset()

	events := make(chan session.Event, 4)
	messages := make(chan transport.Message, 4)
	router := NewRouter(reg, events, messages, nil)

	require.NoError(t, router.Start(context.Background()))
	defer router.Stop(context.Background())

	events <- session.Event{Type: session.EventReconnected, Attempt: 2}

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 2
	}, time.Second, 10*time.Millisecond)

	first := decodeRequest(t, sender.sent()[0])
	second := decodeRequest(t, sender.sent()[1])
	assert.Equal(t, protocol.ChannelVI, first.Body.TrCd)
	assert.Equal(t, protocol.ChannelTradeKOSPI, second.Body.TrCd)
}

func TestRouter_DispatchesInOrder(t *testing.T) {
	sender := &fakeSender{connected: true}
	reg := newTestRegistry(sender)

	got := make(chan string, 8)
	require.NoError(t, reg.Subscribe(protocol.ChannelVI, protocol.AllSymbols,
		func(env *protocol.Envelope) { got <- env.RoutingKey() }))

	events := make(chan session.Event, 4)
	messages := make(chan transport.Message, 4)
	router := NewRouter(reg, events, messages, nil)

	require.NoError(t, router.Start(context.Background()))
	defer router.Stop(context.Background())

	messages <- transport.Message{Data: viMessage("005930", "1")}
	messages <- transport.Message{Data: viMessage("035720", "2")}

	assert.Equal(t, "005930", recvWithTimeout(t, got))
	assert.Equal(t, "035720", recvWithTimeout(t, got))
}

func TestRouter_StopDrains(t *testing.T) {
	sender := &fakeSender{connected: true}
	reg := newTestRegistry(sender)

	events := make(chan session.Event)
	messages := make(chan transport.Message)
	router := NewRouter(reg, events, messages, nil)

	require.NoError(t, router.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, router.Stop(ctx))
}

func TestRouter_StopsWhenChannelsClose(t *testing.T) {
	sender := &fakeSender{connected: true}
	reg := newTestRegistry(sender)

	events := make(chan session.Event)
	messages := make(chan transport.Message)
	router := NewRouter(reg, events, messages, nil)

	require.NoError(t, router.Start(context.Background()))

	close(events)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, router.Stop(ctx))
}

func recvWithTimeout(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
		return ""
	}
}
