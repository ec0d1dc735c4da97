// Package hosterr 把内部错误转换为可以安全展示给终端用户的错误。
// 完整错误只进入日志与错误追踪，用户只看到通用文案和引用 ID。
package hosterr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/types"
)

// DefaultMessage 对外展示的通用错误文案
const DefaultMessage = "The request could not be completed. Please contact support with the reference id."

// PublicError 可以转发到用户侧的错误，不含内部细节
type PublicError struct {
	Message     string `json:"message"`
	ReferenceID string `json:"reference_id"`
}

func (e PublicError) Error() string {
	return fmt.Sprintf("%s (ref: %s)", e.Message, e.ReferenceID)
}

// Tracker 错误追踪后端
type Tracker interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// NopTracker 不上报任何错误
type NopTracker struct{}

func (NopTracker) CaptureError(context.Context, error, map[string]string) {}
func (NopTracker) Flush(time.Duration) bool                               { return true }

// SentryTracker 通过 Sentry 上报错误
type SentryTracker struct {
	hub *sentry.Hub
}

// NewSentryTracker 创建独立 Hub 的 Sentry 追踪器，不修改全局 Hub
func NewSentryTracker(opts sentry.ClientOptions) (*SentryTracker, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("init sentry client: %w", err)
	}
	return &SentryTracker{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// CaptureError 上报错误，tags 写入事件作用域
func (t *SentryTracker) CaptureError(_ context.Context, err error, tags map[string]string) {
	hub := t.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}

// Flush 等待待发送事件
func (t *SentryTracker) Flush(timeout time.Duration) bool {
	return t.hub.Flush(timeout)
}

// Sanitizer 生成引用 ID、记录完整错误并上报追踪后端
type Sanitizer struct {
	logger  *zap.Logger
	tracker Tracker
	message string
}

// Option Sanitizer 可选项
type Option func(*Sanitizer)

// WithTracker 设置错误追踪后端
func WithTracker(t Tracker) Option {
	return func(s *Sanitizer) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithMessage 覆盖对外展示的文案
func WithMessage(msg string) Option {
	return func(s *Sanitizer) {
		if msg != "" {
			s.message = msg
		}
	}
}

// NewSanitizer 创建 Sanitizer
func NewSanitizer(logger *zap.Logger, opts ...Option) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sanitizer{
		logger:  logger.With(zap.String("component", "hosterr")),
		tracker: NopTracker{},
		message: DefaultMessage,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize 记录 err 并返回只含通用文案与引用 ID 的 PublicError。
// err 已经是 PublicError 时原样返回。
func (s *Sanitizer) Sanitize(ctx context.Context, err error) PublicError {
	var pub PublicError
	if errors.As(err, &pub) {
		return pub
	}

	ref := uuid.NewString()
	tags := map[string]string{"reference_id": ref}
	fields := []zap.Field{zap.String("reference_id", ref), zap.Error(err)}
	if code := types.GetErrorCode(err); code != "" {
		tags["error_code"] = string(code)
		fields = append(fields, zap.String("error_code", string(code)))
	}
	if id, ok := ctxkeys.SessionID(ctx); ok {
		tags["session_id"] = id
		fields = append(fields, zap.String("session_id", id))
	}
	if id, ok := ctxkeys.AgentID(ctx); ok {
		tags["agent_id"] = id
		fields = append(fields, zap.String("agent_id", id))
	}

	s.logger.Error("internal error sanitized", fields...)
	s.tracker.CaptureError(ctx, err, tags)
	return PublicError{Message: s.message, ReferenceID: ref}
}

// Flush 等待追踪后端发送完毕，进程退出前调用
func (s *Sanitizer) Flush(timeout time.Duration) bool {
	return s.tracker.Flush(timeout)
}
