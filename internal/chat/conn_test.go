package chat

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/metrics"
)

type frame struct {
	typ  int
	data []byte
}

// fakeConn is an in-memory ConnLike. Frames pushed on inbound are read by
// the client; closing inbound simulates the peer hanging up.
type fakeConn struct {
	inbound chan []byte

	mu           sync.Mutex
	written      []frame
	closed       bool
	readDeadline time.Time
	pongHandler  func(string) error
	// autoPong answers every ping through the pong handler.
	autoPong bool

	closeOnce sync.Once
	done      chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), done: make(chan struct{})}
}

// ReadMessage blocks like a socket read and fails with
// os.ErrDeadlineExceeded once the read deadline passes. A deadline moved
// while blocked is honoured.
func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		f.mu.Lock()
		deadline := f.readDeadline
		f.mu.Unlock()

		var expired <-chan time.Time
		var timer *time.Timer
		if !deadline.IsZero() {
			timer = time.NewTimer(time.Until(deadline))
			expired = timer.C
		}
		stop := func() {
			if timer != nil {
				timer.Stop()
			}
		}

		select {
		case data, ok := <-f.inbound:
			stop()
			if !ok {
				return 0, nil, io.EOF
			}
			return websocket.TextMessage, data, nil
		case <-f.done:
			stop()
			return 0, nil, net.ErrClosed
		case <-expired:
			f.mu.Lock()
			extended := f.readDeadline.After(deadline)
			f.mu.Unlock()
			if !extended {
				return 0, nil, os.ErrDeadlineExceeded
			}
		}
	}
}

func (f *fakeConn) WriteMessage(typ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return net.ErrClosed
	}
	f.written = append(f.written, frame{typ: typ, data: data})
	if typ == websocket.PingMessage && f.autoPong && f.pongHandler != nil {
		pong := f.pongHandler
		f.mu.Unlock()
		err := pong(string(data))
		f.mu.Lock()
		return err
	}
	return nil
}

func (f *fakeConn) WriteControl(typ int, data []byte, _ time.Time) error {
	return f.WriteMessage(typ, data)
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readDeadline = t
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongHandler = h
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.inbound <- data
}

// events decodes every text frame written so far.
func (f *fakeConn) events(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, fr := range f.written {
		if fr.typ != websocket.TextMessage {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal(fr.data, &ev))
		out = append(out, ev)
	}
	return out
}

func (f *fakeConn) pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.written {
		if fr.typ == websocket.PingMessage {
			n++
		}
	}
	return n
}

// closeFrame returns the code and reason of the first close frame written.
func (f *fakeConn) closeFrame() (int, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range f.written {
		if fr.typ == websocket.CloseMessage && len(fr.data) >= 2 {
			return int(binary.BigEndian.Uint16(fr.data[:2])), string(fr.data[2:]), true
		}
	}
	return 0, "", false
}

func testTransport() Transport {
	return Transport{
		PingInterval: time.Hour,
		PongTimeout:  2 * time.Hour,
		WriteTimeout: time.Second,
		SendBuffer:   8,
		DedupeWindow: 16,
	}
}

func testMetrics() *metrics.Metrics { return metrics.New(nil) }

// newTestClient builds an authenticated client whose pumps are not
// running; its queue is read straight from Send.
func newTestClient(userID string, communities ...string) *Client {
	c := newClient(newFakeConn(), testTransport(), zap.NewNop())
	c.UserID = userID
	c.Communities = communities
	return c
}

// drain empties the client's queue without blocking.
func drain(t *testing.T, c *Client) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var ev Event
			require.NoError(t, json.Unmarshal(data, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}
