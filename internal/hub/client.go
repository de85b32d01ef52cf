package hub

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/brokersync/internal/events"
)

// Client is one registered connection
type Client struct {
	id   string
	conn Conn
	hub  *Hub

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	reason    string

	mu            sync.Mutex
	subs          map[events.Channel]struct{}
	lastHeartbeat time.Time
}

// ID returns the client id
func (c *Client) ID() string {
	return c.id
}

// Subscriptions returns the client's channels
func (c *Client) Subscriptions() []events.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Channel, 0, len(c.subs))
	for _, ch := range events.Channels {
		if _, ok := c.subs[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (c *Client) subscribe(ch events.Channel) {
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unsubscribe(ch events.Channel) {
	c.mu.Lock()
	delete(c.subs, ch)
	c.mu.Unlock()
}

func (c *Client) subscribed(ch events.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[ch]
	return ok
}

func (c *Client) touch(t time.Time) {
	c.mu.Lock()
	if t.After(c.lastHeartbeat) {
		c.lastHeartbeat = t
	}
	c.mu.Unlock()
}

func (c *Client) heartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// enqueue never blocks; false means the client is closed or too slow
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *Client) shutdown(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

// writePump serializes writes to the transport and closes it on shutdown
func (c *Client) writePump() {
	defer c.hub.writers.Done()
	for {
		// shutdown takes priority over queued messages
		select {
		case <-c.done:
			c.closeConn()
			return
		default:
		}

		select {
		case <-c.done:
			c.closeConn()
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.WriteTimeout)
			err := c.conn.Write(ctx, data)
			cancel()
			if err != nil {
				c.hub.log.Debug().Err(err).Str("client_id", c.id).Msg("Write failed")
				go c.hub.disconnect(c.id, "write failed")
				c.shutdown("write failed")
			}
		}
	}
}

func (c *Client) closeConn() {
	if err := c.conn.Close(c.reason); err != nil {
		c.hub.log.Debug().Err(err).Str("client_id", c.id).Msg("Close failed")
	}
}

// ping sends a transport-level ping; a pong counts as a heartbeat
func (c *Client) ping(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.conn.Ping(ctx); err != nil {
		return
	}
	c.touch(c.hub.now())
}
