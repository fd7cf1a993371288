package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The codes and messages are part of the wire protocol; clients match
// on them.
func TestErrorCodesAndMessages(t *testing.T) {
	tests := []struct {
		err     *Error
		code    Code
		message string
	}{
		{Unauthorized(), CodeUnauthorized, "未授权"},
		{DeviceRestrict(), CodeDeviceRestrict, "设备受限"},
		{UnSupportedType("消息"), CodeUnSupportedType, "不支持的类型: 消息"},
		{RelationShipNotExists(), CodeRelationShipNotExists, "关系不存在"},
		{ReceiverNotExists(), CodeReceiverNotExists, "接收者不存在"},
		{FileDoesNotExist(), CodeFileDoesNotExist, "文件不存在"},
		{ForbiddenAction("给自己发送消息"), CodeForbiddenAction, "禁止的行为: 给自己发送消息"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.err.Code)
		assert.Equal(t, tt.message, tt.err.Message)
	}
}

func TestCodeValues(t *testing.T) {
	assert.Equal(t, Code(0), CodeSuccess)
	assert.Equal(t, Code(40000), CodeUnauthorized)
	assert.Equal(t, Code(40001), CodeDeviceRestrict)
	assert.Equal(t, Code(40002), CodeUnSupportedType)
	assert.Equal(t, Code(40003), CodeRelationShipNotExists)
	assert.Equal(t, Code(40004), CodeReceiverNotExists)
	assert.Equal(t, Code(40005), CodeFileDoesNotExist)
	assert.Equal(t, Code(50000), CodeForbiddenAction)
}
