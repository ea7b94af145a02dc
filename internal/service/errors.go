package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid     = errors.New("参数错误")
	ErrConvNotFound     = errors.New("会话不存在")
	ErrConvParticipants = errors.New("参与者集合非法")
	ErrMessageSave      = errors.New("消息保存失败，请重试")
	ErrNotifyNotFound   = errors.New("通知不存在")
	UnauthorizedError   = errors.New("权限不足")
	UnExpectedError     = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:     BadRequest,
	ErrConvNotFound:     NotFound,
	ErrConvParticipants: BadRequest,
	ErrMessageSave:      InternalServerError,
	ErrNotifyNotFound:   NotFound,
	UnauthorizedError:   Unauthorized,
	UnExpectedError:     InternalServerError,
}
