package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chatcenter/chatcenter/internal/broker"
	"github.com/chatcenter/chatcenter/internal/mocks"
	"github.com/chatcenter/chatcenter/internal/model"
	"github.com/chatcenter/chatcenter/internal/presence"
	"github.com/chatcenter/chatcenter/internal/repository"
	"github.com/chatcenter/chatcenter/internal/service"
)

// decodedEnvelope mirrors the wire shape of Envelope for assertions.
type decodedEnvelope struct {
	Code        int               `json:"code"`
	MessageType model.MessageKind `json:"message_type"`
	ChatType    model.ChatType    `json:"chat_type"`
	Sender      model.SenderInfo  `json:"sender"`
	Context     string            `json:"context"`
	Time        string            `json:"time"`
	Content     json.RawMessage   `json:"content"`
}

type testDeps struct {
	verifier *mocks.TokenVerifierMock
	users    *mocks.UserStoreMock
	groups   *mocks.GroupStoreMock
	dialogs  *mocks.DialogStoreMock
	messages *mocks.MessageStoreMock
	files    *mocks.FileStoreMock
	system   *mocks.SystemInfoStoreMock
	registry *presence.MemoryRegistry
	broker   *broker.MemoryBroker
}

func newTestHub(t *testing.T) (*Hub, *testDeps) {
	t.Helper()
	d := &testDeps{
		verifier: &mocks.TokenVerifierMock{},
		users:    &mocks.UserStoreMock{},
		groups:   &mocks.GroupStoreMock{},
		dialogs:  &mocks.DialogStoreMock{},
		messages: &mocks.MessageStoreMock{},
		files:    &mocks.FileStoreMock{},
		system:   &mocks.SystemInfoStoreMock{},
		registry: presence.NewMemory(65 * time.Second),
		broker:   broker.NewMemory(),
	}
	h := NewHub(Config{}, d.verifier, d.registry, d.broker, Stores{
		Users:    d.users,
		Groups:   d.groups,
		Dialogs:  d.dialogs,
		Messages: d.messages,
		Files:    d.files,
		System:   d.system,
	})
	return h, d
}

func testUser(id int64, nickname string) *model.User {
	return &model.User{ID: id, Nickname: nickname, IsActive: true}
}

// testClient wires a client into the hub without a real socket. The
// router and handlers never touch the connection directly, output lands
// on the send channel or the broker.
func testClient(h *Hub, u *model.User, device model.Device, addr string) *Client {
	return newClient(h, &stubConn{}, u, device, addr)
}

func nextFrame(t *testing.T, ch <-chan []byte) decodedEnvelope {
	t.Helper()
	select {
	case data := <-ch:
		var env decodedEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return decodedEnvelope{}
	}
}

func assertNoFrame(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// subscribeAddr opens a broker subscription standing in for a remote
// peer's socket at the given transport address.
func subscribeAddr(t *testing.T, b *broker.MemoryBroker, addr string, groups ...string) broker.Subscription {
	t.Helper()
	sub, err := b.Subscribe(context.Background(), addr)
	require.NoError(t, err)
	if len(groups) > 0 {
		require.NoError(t, sub.Add(context.Background(), groups...))
	}
	t.Cleanup(func() { sub.Close() })
	return sub
}

func TestRouteRejectsMalformedFrame(t *testing.T) {
	h, _ := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	c.route(context.Background(), []byte("{not json"))

	env := nextFrame(t, c.send)
	assert.Equal(t, int(service.CodeUnSupportedType), env.Code)
	assert.Equal(t, model.KindError, env.MessageType)
	assert.JSONEq(t, `"不支持的类型: 消息"`, string(env.Content))
}

func TestRouteRejectsBadDiscriminators(t *testing.T) {
	h, _ := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	tests := []struct {
		name    string
		frame   string
		message string
	}{
		{"unknown chat type", `{"chat_type":"Channel","message_type":"text"}`, "不支持的类型: chatType"},
		{"unknown message type", `{"chat_type":"Dialog","message_type":"poke","receiver_id":9}`, "不支持的类型: messageType"},
		{"server-only kind", `{"chat_type":"Dialog","message_type":"online","receiver_id":9}`, "不支持的类型: messageType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.route(context.Background(), []byte(tt.frame))
			env := nextFrame(t, c.send)
			assert.Equal(t, int(service.CodeUnSupportedType), env.Code)
			assert.JSONEq(t, `"`+tt.message+`"`, string(env.Content))
		})
	}
}

func TestDialogSelfSendForbidden(t *testing.T) {
	h, d := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	c.route(context.Background(), []byte(`{"chat_type":"Dialog","message_type":"text","receiver_id":7,"content":[{"tag":"text","value":"hi"}]}`))

	env := nextFrame(t, c.send)
	assert.Equal(t, int(service.CodeForbiddenAction), env.Code)
	assert.JSONEq(t, `"禁止的行为: 给自己发送消息"`, string(env.Content))
	d.messages.AssertNotCalled(t, "CreateDialogMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDialogReceiverAndRelationshipChecks(t *testing.T) {
	h, d := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	d.users.On("GetByID", mock.Anything, int64(8)).Return(nil, repository.ErrNotFound)
	d.users.On("GetByID", mock.Anything, int64(9)).Return(testUser(9, "u9"), nil)
	d.dialogs.On("Get", mock.Anything, int64(7), int64(9)).Return(nil, repository.ErrNotFound)

	c.route(context.Background(), []byte(`{"chat_type":"Dialog","message_type":"text","receiver_id":8,"content":[{"tag":"text","value":"hi"}]}`))
	env := nextFrame(t, c.send)
	assert.Equal(t, int(service.CodeReceiverNotExists), env.Code)

	c.route(context.Background(), []byte(`{"chat_type":"Dialog","message_type":"text","receiver_id":9,"content":[{"tag":"text","value":"hi"}]}`))
	env = nextFrame(t, c.send)
	assert.Equal(t, int(service.CodeRelationShipNotExists), env.Code)
}

func TestDialogTextDelivery(t *testing.T) {
	h, d := newTestHub(t)
	ctx := context.Background()
	sender := testUser(7, "u7")
	receiver := testUser(9, "u9")
	c := testClient(h, sender, model.DeviceWeb, "ws-1")

	require.NoError(t, d.registry.Register(ctx, 9, model.DeviceMobile, "ws-2"))
	peer := subscribeAddr(t, d.broker, "ws-2")

	dialog := &model.Dialog{ID: 3, LeftUserID: 7, RightUserID: 9}
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.users.On("GetByID", mock.Anything, int64(9)).Return(receiver, nil)
	d.dialogs.On("Get", mock.Anything, int64(7), int64(9)).Return(dialog, nil)
	d.messages.On("CreateDialogMessage", mock.Anything, int64(3), int64(7), int64(9), model.KindText, mock.Anything).
		Return(&model.DialogMessage{ID: 42, DialogID: 3, SenderID: 7, ReceiverID: 9, Kind: model.KindText, CreatedAt: created}, nil)

	c.route(ctx, []byte(`{"chat_type":"Dialog","message_type":"text","receiver_id":9,"content":[{"tag":"text","value":"hi"}]}`))

	env := nextFrame(t, peer.Messages())
	assert.Equal(t, int(service.CodeSuccess), env.Code)
	assert.Equal(t, model.KindText, env.MessageType)
	assert.Equal(t, model.ChatTypeDialog, env.ChatType)
	assert.Equal(t, "7", env.Sender.ID)
	assert.Equal(t, created.Format(time.RFC3339), env.Time)
	assert.JSONEq(t, `[{"tag":"text","value":"hi"}]`, string(env.Content))

	unread := nextFrame(t, peer.Messages())
	assert.Equal(t, model.KindMessageNewUnread, unread.MessageType)
	assert.JSONEq(t, `{"chat_instance_id":3,"message_id":42}`, string(unread.Content))

	ack := nextFrame(t, c.send)
	assert.Equal(t, model.KindMessageSent, ack.MessageType)
	assert.JSONEq(t, `{"chat_instance_id":3,"message_id":42}`, string(ack.Content))

	d.messages.AssertExpectations(t)
}

func TestDialogOfflineReceiverIsDurableOnly(t *testing.T) {
	h, d := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	dialog := &model.Dialog{ID: 3, LeftUserID: 7, RightUserID: 9}
	d.users.On("GetByID", mock.Anything, int64(9)).Return(testUser(9, "u9"), nil)
	d.dialogs.On("Get", mock.Anything, int64(7), int64(9)).Return(dialog, nil)
	d.messages.On("CreateDialogMessage", mock.Anything, int64(3), int64(7), int64(9), model.KindText, mock.Anything).
		Return(&model.DialogMessage{ID: 43, DialogID: 3, SenderID: 7, ReceiverID: 9, Kind: model.KindText, CreatedAt: time.Now()}, nil)

	c.route(context.Background(), []byte(`{"chat_type":"Dialog","message_type":"text","receiver_id":9,"content":[{"tag":"text","value":"hi"}]}`))

	ack := nextFrame(t, c.send)
	assert.Equal(t, model.KindMessageSent, ack.MessageType)
	d.messages.AssertExpectations(t)
}

func TestGroupBroadcast(t *testing.T) {
	h, d := newTestHub(t)
	ctx := context.Background()
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	peer9 := subscribeAddr(t, d.broker, "ws-9", broker.GroupKey(4))
	peer11 := subscribeAddr(t, d.broker, "ws-11", broker.GroupKey(4))

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.groups.On("GetByID", mock.Anything, int64(4)).Return(&model.Group{ID: 4, Name: "g4"}, nil)
	d.groups.On("GetMembership", mock.Anything, int64(7), int64(4)).Return(&model.Membership{UserID: 7, GroupID: 4}, nil)
	d.messages.On("CreateGroupMessage", mock.Anything, int64(4), int64(7), model.KindText, mock.Anything).
		Return(&model.GroupMessage{ID: 50, GroupID: 4, SenderID: 7, Kind: model.KindText, CreatedAt: created}, nil)

	c.route(ctx, []byte(`{"chat_type":"Group","message_type":"text","receiver_id":4,"content":[{"tag":"text","value":"all"}]}`))

	for _, peer := range []broker.Subscription{peer9, peer11} {
		env := nextFrame(t, peer.Messages())
		assert.Equal(t, model.KindText, env.MessageType)
		assert.Equal(t, model.ChatTypeGroup, env.ChatType)
		assert.Equal(t, broker.GroupKey(4), env.Context)
		assert.Equal(t, "7", env.Sender.ID)
	}

	ack := nextFrame(t, c.send)
	assert.Equal(t, model.KindMessageSent, ack.MessageType)
	assert.JSONEq(t, `{"chat_instance_id":4,"message_id":50}`, string(ack.Content))
	d.messages.AssertExpectations(t)
}

func TestGroupWithoutMembershipRejected(t *testing.T) {
	h, d := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	d.groups.On("GetByID", mock.Anything, int64(4)).Return(&model.Group{ID: 4}, nil)
	d.groups.On("GetMembership", mock.Anything, int64(7), int64(4)).Return(nil, repository.ErrNotFound)

	c.route(context.Background(), []byte(`{"chat_type":"Group","message_type":"text","receiver_id":4,"content":[{"tag":"text","value":"hi"}]}`))

	env := nextFrame(t, c.send)
	assert.Equal(t, int(service.CodeRelationShipNotExists), env.Code)
	d.messages.AssertNotCalled(t, "CreateGroupMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFileMessageOwnershipRequired(t *testing.T) {
	h, d := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	d.users.On("GetByID", mock.Anything, int64(9)).Return(testUser(9, "u9"), nil)
	d.dialogs.On("Get", mock.Anything, int64(7), int64(9)).Return(&model.Dialog{ID: 3, LeftUserID: 7, RightUserID: 9}, nil)
	d.files.On("GetUserFile", mock.Anything, int64(7), int64(99999)).Return(nil, repository.ErrNotFound)

	c.route(context.Background(), []byte(`{"chat_type":"Dialog","message_type":"picture","receiver_id":9,"content":{"id":99999,"url":"https://cdn/p.png","size":1024,"extension":"png"}}`))

	env := nextFrame(t, c.send)
	assert.Equal(t, int(service.CodeFileDoesNotExist), env.Code)
	assert.JSONEq(t, `"文件不存在"`, string(env.Content))
	d.messages.AssertNotCalled(t, "CreateDialogMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFileMessageZeroSizeRejected(t *testing.T) {
	h, d := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	d.users.On("GetByID", mock.Anything, int64(9)).Return(testUser(9, "u9"), nil)
	d.dialogs.On("Get", mock.Anything, int64(7), int64(9)).Return(&model.Dialog{ID: 3, LeftUserID: 7, RightUserID: 9}, nil)
	d.files.On("GetUserFile", mock.Anything, int64(7), int64(5)).Return(&model.File{ID: 5, OwnerID: 7, Size: 0}, nil)

	c.route(context.Background(), []byte(`{"chat_type":"Dialog","message_type":"file","receiver_id":9,"content":{"id":5,"url":"https://cdn/f.bin","size":0,"extension":"bin"}}`))

	env := nextFrame(t, c.send)
	assert.Equal(t, int(service.CodeFileDoesNotExist), env.Code)
}

func TestReadReceipt(t *testing.T) {
	h, d := newTestHub(t)
	ctx := context.Background()
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	require.NoError(t, d.registry.Register(ctx, 9, model.DeviceMobile, "ws-2"))
	peer := subscribeAddr(t, d.broker, "ws-2")

	d.users.On("GetByID", mock.Anything, int64(9)).Return(testUser(9, "u9"), nil)
	d.dialogs.On("Get", mock.Anything, int64(7), int64(9)).Return(&model.Dialog{ID: 3, LeftUserID: 7, RightUserID: 9}, nil)
	d.messages.On("MarkRead", mock.Anything, int64(3), int64(9), int64(11)).Return(nil)

	c.route(ctx, []byte(`{"chat_type":"Dialog","message_type":"message_read","receiver_id":9,"content":{"chat_instance_id":3,"message_id":11}}`))

	env := nextFrame(t, peer.Messages())
	assert.Equal(t, model.KindMessageRead, env.MessageType)
	assert.JSONEq(t, `{"chat_instance_id":3,"message_id":11}`, string(env.Content))
	assertNoFrame(t, c.send)
	d.messages.AssertExpectations(t)
}

func TestTypingIsEphemeral(t *testing.T) {
	h, d := newTestHub(t)
	ctx := context.Background()
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	require.NoError(t, d.registry.Register(ctx, 9, model.DeviceMobile, "ws-2"))
	peer := subscribeAddr(t, d.broker, "ws-2")

	d.users.On("GetByID", mock.Anything, int64(9)).Return(testUser(9, "u9"), nil)
	d.dialogs.On("Get", mock.Anything, int64(7), int64(9)).Return(&model.Dialog{ID: 3, LeftUserID: 7, RightUserID: 9}, nil)

	c.route(ctx, []byte(`{"chat_type":"Dialog","message_type":"typing","receiver_id":9}`))

	env := nextFrame(t, peer.Messages())
	assert.Equal(t, model.KindTyping, env.MessageType)
	assert.Equal(t, model.ChatTypeDialog, env.ChatType)
	assertNoFrame(t, c.send)
	d.messages.AssertNotCalled(t, "CreateDialogMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGroupTypingIsNoop(t *testing.T) {
	h, d := newTestHub(t)
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-1")

	d.groups.On("GetByID", mock.Anything, int64(4)).Return(&model.Group{ID: 4}, nil)
	d.groups.On("GetMembership", mock.Anything, int64(7), int64(4)).Return(&model.Membership{UserID: 7, GroupID: 4}, nil)

	c.route(context.Background(), []byte(`{"chat_type":"Group","message_type":"typing","receiver_id":4}`))

	assertNoFrame(t, c.send)
}

// stubConn is a scriptable wsConn for handshake tests.
type stubConn struct {
	mu     sync.Mutex
	writes []stubWrite
	closed bool
}

type stubWrite struct {
	messageType int
	data        []byte
}

func (s *stubConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("stub: no reads")
}

func (s *stubConn) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, stubWrite{messageType, data})
	return nil
}

func (s *stubConn) SetReadLimit(int64)                {}
func (s *stubConn) SetReadDeadline(time.Time) error   { return nil }
func (s *stubConn) SetWriteDeadline(time.Time) error  { return nil }
func (s *stubConn) SetPongHandler(func(string) error) {}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubConn) lastWrite(t *testing.T) stubWrite {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.writes)
	return s.writes[len(s.writes)-1]
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	h, d := newTestHub(t)
	conn := &stubConn{}
	d.verifier.On("Verify", "bad").Return(int64(0), errors.New("invalid token"))

	h.HandleConnection(context.Background(), conn, "bad", "web")

	w := conn.lastWrite(t)
	code, _ := decodeCloseFrame(t, w.data)
	assert.Equal(t, int(service.CodeUnauthorized), code)
	assert.True(t, conn.closed)
}

func TestHandshakeRejectsBusyDevice(t *testing.T) {
	h, d := newTestHub(t)
	ctx := context.Background()
	conn := &stubConn{}

	// The existing session holds the slot.
	require.NoError(t, d.registry.Register(ctx, 7, model.DeviceWeb, "ws-1"))
	sysSub := subscribeAddr(t, d.broker, "observer", broker.SystemGroupKey)

	d.verifier.On("Verify", "tok").Return(int64(7), nil)
	d.users.On("GetByID", mock.Anything, int64(7)).Return(testUser(7, "u7"), nil)

	h.HandleConnection(ctx, conn, "tok", "web")

	w := conn.lastWrite(t)
	code, _ := decodeCloseFrame(t, w.data)
	assert.Equal(t, int(service.CodeDeviceRestrict), code)

	// The original slot is untouched and no online event leaked out.
	addr, err := d.registry.Lookup(ctx, 7, model.DeviceWeb)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", addr)
	assertNoFrame(t, sysSub.Messages())
}

func TestHandshakeRejectsUnknownDevice(t *testing.T) {
	h, d := newTestHub(t)
	conn := &stubConn{}
	d.verifier.On("Verify", "tok").Return(int64(7), nil)
	d.users.On("GetByID", mock.Anything, int64(7)).Return(testUser(7, "u7"), nil)

	h.HandleConnection(context.Background(), conn, "tok", "desktop")

	w := conn.lastWrite(t)
	code, _ := decodeCloseFrame(t, w.data)
	assert.Equal(t, int(service.CodeDeviceRestrict), code)
}

func TestHandshakeRejectsArchivedUser(t *testing.T) {
	h, d := newTestHub(t)
	conn := &stubConn{}
	now := time.Now()
	d.verifier.On("Verify", "tok").Return(int64(7), nil)
	d.users.On("GetByID", mock.Anything, int64(7)).Return(&model.User{ID: 7, IsActive: true, ArchivedAt: &now}, nil)

	h.HandleConnection(context.Background(), conn, "tok", "web")

	w := conn.lastWrite(t)
	code, _ := decodeCloseFrame(t, w.data)
	assert.Equal(t, int(service.CodeUnauthorized), code)
}

// decodeCloseFrame splits a close payload into code and reason.
func decodeCloseFrame(t *testing.T, data []byte) (int, string) {
	t.Helper()
	require.GreaterOrEqual(t, len(data), 2)
	return int(data[0])<<8 | int(data[1]), string(data[2:])
}

func TestTeardownIdempotent(t *testing.T) {
	h, d := newTestHub(t)
	ctx := context.Background()
	u := testUser(7, "u7")
	c := testClient(h, u, model.DeviceWeb, "ws-1")

	require.NoError(t, d.registry.Register(ctx, 7, model.DeviceWeb, "ws-1"))
	require.NoError(t, d.registry.SetOnline(ctx, 7))
	sub, err := d.broker.Subscribe(ctx, "ws-1")
	require.NoError(t, err)
	c.sub = sub

	c.teardown()
	c.teardown()

	addr, err := d.registry.Lookup(ctx, 7, model.DeviceWeb)
	require.NoError(t, err)
	assert.Empty(t, addr)
	online, err := d.registry.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestTeardownSparesReplacementSlot(t *testing.T) {
	h, d := newTestHub(t)
	ctx := context.Background()
	c := testClient(h, testUser(7, "u7"), model.DeviceWeb, "ws-old")

	// The slot already belongs to a newer session.
	require.NoError(t, d.registry.Register(ctx, 7, model.DeviceWeb, "ws-new"))

	c.teardown()

	addr, err := d.registry.Lookup(ctx, 7, model.DeviceWeb)
	require.NoError(t, err)
	assert.Equal(t, "ws-new", addr)
}
