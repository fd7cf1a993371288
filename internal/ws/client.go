package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/model"
)

// wsConn is the slice of *websocket.Conn the client uses; a stub stands
// in for it in tests.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one live socket: lifecycle, routing and delivery for a
// single (user, device) session.
type Client struct {
	hub    *Hub
	conn   wsConn
	user   *model.User
	sender model.SenderInfo
	device model.Device
	addr   string

	sub       subscription
	groupKeys []string

	send chan []byte
	done chan struct{}

	cancel       context.CancelFunc
	closeOnce    sync.Once
	teardownOnce sync.Once
	wg           sync.WaitGroup
}

// subscription is broker.Subscription; aliased locally so tests can
// leave it nil before the socket is subscribed.
type subscription interface {
	Add(ctx context.Context, keys ...string) error
	Discard(ctx context.Context, keys ...string) error
	Messages() <-chan []byte
	Close() error
}

func newClient(h *Hub, conn wsConn, user *model.User, device model.Device, addr string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		user:   user,
		sender: model.SenderOf(user),
		device: device,
		addr:   addr,
		send:   make(chan []byte, h.cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// start launches the read, write and delivery pumps.
func (c *Client) start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(3)
	go c.writePump(ctx)
	go c.deliverPump(ctx)
	go c.readPump(ctx)
}

// wait blocks until all pump goroutines have exited.
func (c *Client) wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from
// any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Unblocks ReadMessage/WriteMessage in both pumps.
		c.conn.Close()
	})
}

// teardown reverses the accept sequence: leave all broker groups, free
// the device slot (compare-and-delete, so a replacement session is
// untouched), clear the online bit, announce offline. Every step
// tolerates partial completion; running twice leaves identical state.
func (c *Client) teardown() {
	c.teardownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if c.sub != nil {
			if len(c.groupKeys) > 0 {
				if err := c.sub.Discard(ctx, c.groupKeys...); err != nil {
					logger.Errorf("ws discard groups user=%d: %v", c.user.ID, err)
				}
			}
			if err := c.sub.Close(); err != nil {
				logger.Errorf("ws close subscription user=%d: %v", c.user.ID, err)
			}
		}
		if err := c.hub.registry.Unregister(ctx, c.user.ID, c.device, c.addr); err != nil {
			logger.Errorf("ws unregister user=%d device=%s: %v", c.user.ID, c.device, err)
		}
		if err := c.hub.registry.ClearOnline(ctx, c.user.ID); err != nil {
			logger.Errorf("ws clear online user=%d: %v", c.user.ID, err)
		}
		c.hub.broadcastPresence(ctx, model.KindOffline, c)
		c.Close()
	})
}

// readPump reads frames and routes them sequentially, so a single
// sender's frames are processed in receive order.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.Close()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout)); err != nil {
		logger.Errorf("ws set read deadline user=%d: %v", c.user.ID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		// Heartbeat: the pong refreshes the presence slot TTL.
		rctx, rcancel := context.WithTimeout(ctx, 3*time.Second)
		if err := c.hub.registry.Refresh(rctx, c.user.ID, c.device, c.addr); err != nil {
			logger.Errorf("ws refresh presence user=%d: %v", c.user.ID, err)
		}
		rcancel()
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read user=%d: %v", c.user.ID, err)
			}
			return
		}
		c.route(ctx, raw)
	}
}

// writePump serializes all writes to the connection: queued frames and
// keepalive pings.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	pingPeriod := c.hub.cfg.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message user=%d: %v", c.user.ID, err)
			}
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				logger.Errorf("ws set write deadline user=%d: %v", c.user.ID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				logger.Errorf("ws set write deadline user=%d: %v", c.user.ID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliverPump forwards broker messages onto the socket's send queue.
func (c *Client) deliverPump(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.sub.Messages():
			if !ok {
				return
			}
			c.enqueue(data)
		}
	}
}

// enqueue hands data to the write pump without blocking; a subscriber
// that cannot drain its buffer is closed.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		logger.Errorf("ws send buffer full, closing slow client user=%d", c.user.ID)
		c.Close()
	}
}

func (c *Client) sendEnvelope(env Envelope) {
	data, err := env.Encode()
	if err != nil {
		logger.Errorf("ws encode envelope user=%d: %v", c.user.ID, err)
		return
	}
	c.enqueue(data)
}
