package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/chatcenter/chatcenter/internal/model"
)

type UserStoreMock struct {
	mock.Mock
}

func (m *UserStoreMock) GetByID(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	var u *model.User
	if val := args.Get(0); val != nil {
		u = val.(*model.User)
	}
	return u, args.Error(1)
}

type GroupStoreMock struct {
	mock.Mock
}

func (m *GroupStoreMock) GetByID(ctx context.Context, id int64) (*model.Group, error) {
	args := m.Called(ctx, id)
	var g *model.Group
	if val := args.Get(0); val != nil {
		g = val.(*model.Group)
	}
	return g, args.Error(1)
}

func (m *GroupStoreMock) GetMembership(ctx context.Context, userID, groupID int64) (*model.Membership, error) {
	args := m.Called(ctx, userID, groupID)
	var mb *model.Membership
	if val := args.Get(0); val != nil {
		mb = val.(*model.Membership)
	}
	return mb, args.Error(1)
}

func (m *GroupStoreMock) GroupIDsOf(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

type DialogStoreMock struct {
	mock.Mock
}

func (m *DialogStoreMock) Get(ctx context.Context, userA, userB int64) (*model.Dialog, error) {
	args := m.Called(ctx, userA, userB)
	var d *model.Dialog
	if val := args.Get(0); val != nil {
		d = val.(*model.Dialog)
	}
	return d, args.Error(1)
}

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) CreateGroupMessage(ctx context.Context, groupID, senderID int64, kind model.MessageKind, content json.RawMessage) (*model.GroupMessage, error) {
	args := m.Called(ctx, groupID, senderID, kind, content)
	var msg *model.GroupMessage
	if val := args.Get(0); val != nil {
		msg = val.(*model.GroupMessage)
	}
	return msg, args.Error(1)
}

func (m *MessageStoreMock) CreateDialogMessage(ctx context.Context, dialogID, senderID, receiverID int64, kind model.MessageKind, content json.RawMessage) (*model.DialogMessage, error) {
	args := m.Called(ctx, dialogID, senderID, receiverID, kind, content)
	var msg *model.DialogMessage
	if val := args.Get(0); val != nil {
		msg = val.(*model.DialogMessage)
	}
	return msg, args.Error(1)
}

func (m *MessageStoreMock) MarkRead(ctx context.Context, dialogID, senderID, uptoID int64) error {
	args := m.Called(ctx, dialogID, senderID, uptoID)
	return args.Error(0)
}

type FileStoreMock struct {
	mock.Mock
}

func (m *FileStoreMock) GetUserFile(ctx context.Context, userID, fileID int64) (*model.File, error) {
	args := m.Called(ctx, userID, fileID)
	var f *model.File
	if val := args.Get(0); val != nil {
		f = val.(*model.File)
	}
	return f, args.Error(1)
}

type SystemInfoStoreMock struct {
	mock.Mock
}

func (m *SystemInfoStoreMock) GetSystemSender(ctx context.Context) model.SenderInfo {
	args := m.Called(ctx)
	return args.Get(0).(model.SenderInfo)
}

type TokenVerifierMock struct {
	mock.Mock
}

func (m *TokenVerifierMock) Verify(token string) (int64, error) {
	args := m.Called(token)
	return args.Get(0).(int64), args.Error(1)
}
