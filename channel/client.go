package channel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientState is the observer connection state machine:
// disconnected -> connecting -> connected -> disconnected.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Backoff is the pure reconnect delay policy: min(base * 2^attempt, cap).
func Backoff(base time.Duration, attempt int, cap time.Duration) time.Duration {
	if attempt >= 63 {
		return cap
	}
	d := base << uint(attempt)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}

// cellKey identifies a cell update for idempotent merging. Duplicate or
// out-of-order delivery of the same (column, file) update is harmless.
type cellKey struct {
	ColumnID string
	FileID   string
}

// Client is a reconnecting observer of one review's progress channel.
type Client struct {
	// URL is the websocket endpoint for the review room.
	URL string

	// BaseDelay, MaxDelay and MaxAttempts parameterize the reconnect
	// backoff. Zero values fall back to 1s / 30s / 5.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// OnEvent, when set, observes every delivered event after merging.
	OnEvent func(Event)

	// OnTerminalError fires exactly once, after MaxAttempts consecutive
	// connection failures. No further attempts are made after it fires.
	OnTerminalError func(error)

	mu       sync.Mutex
	state    ClientState
	cells    map[cellKey]Event
	terminal sync.Once
}

func (c *Client) defaults() (time.Duration, time.Duration, int) {
	base, cap, attempts := c.BaseDelay, c.MaxDelay, c.MaxAttempts
	if base <= 0 {
		base = time.Second
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	if attempts <= 0 {
		attempts = 5
	}
	return base, cap, attempts
}

// State returns the current connection state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Cells returns the merged view of all cell updates received so far.
func (c *Client) Cells() map[string]Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Event, len(c.cells))
	for k, ev := range c.cells {
		out[k.ColumnID+"/"+k.FileID] = ev
	}
	return out
}

func (c *Client) merge(ev Event) {
	if ev.Type == EventCellUpdated {
		c.mu.Lock()
		if c.cells == nil {
			c.cells = make(map[cellKey]Event)
		}
		c.cells[cellKey{ColumnID: ev.ColumnID, FileID: ev.FileID}] = ev
		c.mu.Unlock()
	}
	if c.OnEvent != nil {
		c.OnEvent(ev)
	}
}

// Run connects and consumes events until ctx is cancelled or the retry
// budget is exhausted. Each disconnect starts a fresh backoff streak; a
// successful connection resets the attempt counter.
func (c *Client) Run(ctx context.Context) error {
	base, cap, maxAttempts := c.defaults()

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		c.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
		if err != nil {
			c.setState(StateDisconnected)
			attempt++
			if attempt >= maxAttempts {
				terminal := fmt.Errorf("giving up after %d connection attempts: %w", attempt, err)
				c.terminal.Do(func() {
					if c.OnTerminalError != nil {
						c.OnTerminalError(terminal)
					}
				})
				return terminal
			}
			delay := Backoff(base, attempt-1, cap)
			log.Printf("[Client] Connect attempt %d failed, retrying in %v: %v", attempt, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		c.setState(StateConnected)
		attempt = 0
		err = c.consume(ctx, conn)
		conn.Close()
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[Client] Disconnected from %s: %v", c.URL, err)
	}
}

func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		c.merge(ev)
	}
}
