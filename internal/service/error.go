// Package service defines the wire-stable service codes and the domain
// error type carried from handlers back to the originating socket.
package service

import "fmt"

// Code is a stable integer service code. Zero means success; non-zero
// codes are delivered to the client in the error envelope and, for
// handshake failures, as the WebSocket close code.
type Code int

const (
	CodeSuccess               Code = 0
	CodeUnauthorized          Code = 40000
	CodeDeviceRestrict        Code = 40001
	CodeUnSupportedType       Code = 40002
	CodeRelationShipNotExists Code = 40003
	CodeReceiverNotExists     Code = 40004
	CodeFileDoesNotExist      Code = 40005
	CodeForbiddenAction       Code = 50000
)

// Error is a domain-meaningful failure. Handlers raise it, the router
// converts it to an error envelope for the sender only.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// NewError builds a service error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// UnSupportedType rejects a malformed frame, unknown message kind or
// unknown chat type. The wire message names the offending field.
func UnSupportedType(what string) *Error {
	return NewError(CodeUnSupportedType, "不支持的类型: "+what)
}

// RelationShipNotExists rejects a frame whose sender has no membership
// or dialog with the receiver.
func RelationShipNotExists() *Error {
	return NewError(CodeRelationShipNotExists, "关系不存在")
}

// ReceiverNotExists rejects a frame whose receiver entity is absent.
func ReceiverNotExists() *Error {
	return NewError(CodeReceiverNotExists, "接收者不存在")
}

// FileDoesNotExist rejects a file-like frame whose file id is not owned
// by the sender or has non-positive size.
func FileDoesNotExist() *Error {
	return NewError(CodeFileDoesNotExist, "文件不存在")
}

// ForbiddenAction rejects a semantically invalid action, e.g. opening a
// dialog with oneself.
func ForbiddenAction(what string) *Error {
	return NewError(CodeForbiddenAction, "禁止的行为: "+what)
}

// Unauthorized closes a handshake that carries no valid identity.
func Unauthorized() *Error {
	return NewError(CodeUnauthorized, "未授权")
}

// DeviceRestrict closes a handshake for an unknown device tag or a busy
// device slot.
func DeviceRestrict() *Error {
	return NewError(CodeDeviceRestrict, "设备受限")
}
