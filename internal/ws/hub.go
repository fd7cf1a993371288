package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatcenter/chatcenter/internal/broker"
	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/model"
	"github.com/chatcenter/chatcenter/internal/presence"
	"github.com/chatcenter/chatcenter/internal/service"
)

// TokenVerifier authenticates the handshake token.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Config carries the per-connection tunables.
type Config struct {
	MaxConnections int
	SendBufferSize int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10000
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8192
	}
	return c
}

// Stores bundles the persistence seams the hub needs.
type Stores struct {
	Users    UserStore
	Groups   GroupStore
	Dialogs  DialogStore
	Messages MessageStore
	Files    FileStore
	System   SystemInfoStore
}

// Hub owns the shared dependencies of all live sockets and tracks them
// for the connection cap and shutdown.
type Hub struct {
	cfg      Config
	verifier TokenVerifier
	registry presence.Registry
	broker   broker.Broker
	stores   Stores

	handlers map[model.MessageKind]handlerFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
	done    chan struct{}
}

func NewHub(cfg Config, verifier TokenVerifier, registry presence.Registry, b broker.Broker, stores Stores) *Hub {
	h := &Hub{
		cfg:      cfg.withDefaults(),
		verifier: verifier,
		registry: registry,
		broker:   b,
		stores:   stores,
		clients:  make(map[*Client]struct{}),
		done:     make(chan struct{}),
	}
	// Fixed dispatch table: unknown kinds never reach it, the router
	// rejects them first.
	h.handlers = map[model.MessageKind]handlerFunc{
		model.KindText:        h.handleContentMessage,
		model.KindLocation:    h.handleContentMessage,
		model.KindShare:       h.handleContentMessage,
		model.KindPicture:     h.handleFileMessage,
		model.KindVideo:       h.handleFileMessage,
		model.KindAudio:       h.handleFileMessage,
		model.KindFile:        h.handleFileMessage,
		model.KindTyping:      h.handleEphemeral,
		model.KindStopTyping:  h.handleEphemeral,
		model.KindMessageRead: h.handleMessageRead,
	}
	return h
}

// Run blocks until ctx is cancelled, then closes every live socket and
// waits for their goroutines to drain.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	close(h.done)

	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	// Network I/O outside the lock.
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.wait()
	}
}

func (h *Hub) add(c *Client) error {
	select {
	case <-h.done:
		return errors.New("hub shutting down")
	default:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.cfg.MaxConnections {
		return errors.New("connection limit reached")
	}
	h.clients[c] = struct{}{}
	return nil
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// HandleConnection drives one socket from handshake to teardown. The
// caller owns conn; every exit path closes it.
func (h *Hub) HandleConnection(parent context.Context, conn wsConn, token, deviceTag string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	acceptCtx, acceptCancel := context.WithTimeout(ctx, 10*time.Second)
	userID, err := h.verifier.Verify(token)
	if err != nil {
		acceptCancel()
		closeWithCode(conn, service.Unauthorized())
		return
	}
	user, err := h.stores.Users.GetByID(acceptCtx, userID)
	if err != nil || !user.CanAuthenticate() {
		acceptCancel()
		closeWithCode(conn, service.Unauthorized())
		return
	}
	device := model.Device(deviceTag)
	if !device.Valid() {
		acceptCancel()
		closeWithCode(conn, service.DeviceRestrict())
		return
	}

	addr := "chat." + uuid.NewString()
	if err := h.registry.Register(acceptCtx, user.ID, device, addr); err != nil {
		acceptCancel()
		if !errors.Is(err, presence.ErrDeviceBusy) {
			logger.Errorf("ws register user=%d device=%s: %v", user.ID, device, err)
		}
		closeWithCode(conn, service.DeviceRestrict())
		return
	}

	c := newClient(h, conn, user, device, addr)
	// Teardown is idempotent and safe in any partial-completion state.
	defer c.teardown()

	sub, err := h.broker.Subscribe(ctx, addr)
	if err != nil {
		acceptCancel()
		logger.Errorf("ws subscribe user=%d addr=%s: %v", user.ID, addr, err)
		return
	}
	c.sub = sub

	groupIDs, err := h.registry.GroupsOf(acceptCtx, user.ID)
	if err != nil {
		logger.Errorf("ws groups of user=%d: %v", user.ID, err)
	}
	if len(groupIDs) == 0 {
		// Membership predating the out-of-band populator: seed from the
		// database so the first connect still joins its groups.
		if ids, derr := h.stores.Groups.GroupIDsOf(acceptCtx, user.ID); derr == nil && len(ids) > 0 {
			groupIDs = ids
			if serr := h.registry.SeedGroups(acceptCtx, user.ID, ids); serr != nil {
				logger.Errorf("ws seed groups user=%d: %v", user.ID, serr)
			}
		}
	}
	keys := make([]string, 0, len(groupIDs)+1)
	keys = append(keys, broker.SystemGroupKey)
	for _, id := range groupIDs {
		keys = append(keys, broker.GroupKey(id))
	}
	if err := sub.Add(acceptCtx, keys...); err != nil {
		acceptCancel()
		logger.Errorf("ws join groups user=%d: %v", user.ID, err)
		return
	}
	c.groupKeys = keys

	if err := h.registry.SetOnline(acceptCtx, user.ID); err != nil {
		logger.Errorf("ws set online user=%d: %v", user.ID, err)
	}
	acceptCancel()

	if err := h.add(c); err != nil {
		logger.Errorf("ws reject user=%d: %v", user.ID, err)
		return
	}
	defer h.remove(c)

	bctx, bcancel := context.WithTimeout(ctx, 5*time.Second)
	h.broadcastPresence(bctx, model.KindOnline, c)
	h.sendJoin(bctx, c)
	bcancel()

	c.start(ctx, cancel)
	c.wait()
}

// broadcastPresence publishes an online/offline transition to the
// system group.
func (h *Hub) broadcastPresence(ctx context.Context, kind model.MessageKind, c *Client) {
	env := NewEnvelope(kind, model.ChatTypeSystemCenter, c.sender, broker.SystemGroupKey, time.Now(), c.sender)
	data, err := env.Encode()
	if err != nil {
		logger.Errorf("ws encode %s user=%d: %v", kind, c.user.ID, err)
		return
	}
	if err := h.broker.Publish(ctx, broker.SystemGroupKey, data); err != nil {
		logger.Errorf("ws publish %s user=%d: %v", kind, c.user.ID, err)
	}
}

// sendJoin tells the freshly subscribed socket its server-side context.
func (h *Hub) sendJoin(ctx context.Context, c *Client) {
	sys := h.stores.System.GetSystemSender(ctx)
	env := NewEnvelope(model.KindJoin, model.ChatTypeSystemCenter, sys, c.addr, time.Now(), c.sender)
	c.sendEnvelope(env)
}

// closeWithCode writes a close frame whose code mirrors the service
// code, matching the wire protocol, then drops the connection.
func closeWithCode(conn wsConn, serr *service.Error) {
	msg := websocket.FormatCloseMessage(int(serr.Code), serr.Message)
	deadline := time.Now().Add(5 * time.Second)
	if err := conn.SetWriteDeadline(deadline); err == nil {
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
	}
	conn.Close()
}
