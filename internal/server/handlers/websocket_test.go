// internal/server/handlers/websocket_test.go

package handlers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDeliversToSendChannel(t *testing.T) {
	c := &wsClient{send: make(chan []byte, 2)}

	c.enqueue([]byte("one"))
	c.enqueue([]byte("two"))

	assert.Equal(t, []byte("one"), <-c.send)
	assert.Equal(t, []byte("two"), <-c.send)
}

func TestEnqueueDropsWhenBufferFull(t *testing.T) {
	c := &wsClient{send: make(chan []byte, 1)}

	c.enqueue([]byte("kept"))
	c.enqueue([]byte("dropped"))

	assert.Equal(t, []byte("kept"), <-c.send)

	select {
	case data := <-c.send:
		t.Fatalf("unexpected queued event %q", data)
	default:
	}
}

func TestEnqueueAfterShutdownIsNoop(t *testing.T) {
	c := &wsClient{send: make(chan []byte, 4)}
	c.shutdown()

	// A delivery callback still in flight after Unsubscribe must not
	// panic on the closed channel
	require.NotPanics(t, func() {
		c.enqueue([]byte("late event"))
	})

	_, open := <-c.send
	assert.False(t, open)
}

func TestEnqueueShutdownRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := &wsClient{send: make(chan []byte, 1)}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c.enqueue([]byte("event"))
			}
		}()
		go func() {
			defer wg.Done()
			c.shutdown()
		}()
		wg.Wait()
	}
}

func TestShutdownIdempotent(t *testing.T) {
	c := &wsClient{send: make(chan []byte, 1)}

	require.NotPanics(t, func() {
		c.shutdown()
		c.shutdown()
	})
}
