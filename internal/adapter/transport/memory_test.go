package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpmux/internal/domain"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	payload := []byte(`{"id":1}`)
	require.NoError(t, m.Send(ctx, payload))
	payload[0] = 'x'
	assert.Equal(t, `{"id":1}`, string(<-m.Sent()), "sent frames are copied")

	go m.Deliver(ctx, []byte(`{"method":"Page.loadEventFired"}`))
	assert.Equal(t, `{"method":"Page.loadEventFired"}`, string(<-m.Incoming()))
}

func TestMemoryFailSends(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	boom := errors.New("boom")
	m.FailSends(boom)
	assert.ErrorIs(t, m.Send(context.Background(), []byte(`{}`)), boom)

	m.FailSends(nil)
	assert.NoError(t, m.Send(context.Background(), []byte(`{}`)))
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, ok := <-m.Incoming()
	assert.False(t, ok)
	assert.ErrorIs(t, m.Send(context.Background(), []byte(`{}`)), domain.ErrConnectionClosed)
	assert.ErrorIs(t, m.Deliver(context.Background(), []byte(`{}`)), domain.ErrConnectionClosed)
}

func TestMemoryHangup(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.Hangup()
	_, ok := <-m.Incoming()
	assert.False(t, ok)
	<-m.Closed()
}
