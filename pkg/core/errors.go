// Package core 定义了搜索缓存各组件共用的错误类型和错误代码。
package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode 是一个字符串类型，用于表示缓存体系中所有预定义的错误类别。
type ErrorCode string

const (
	// ErrCacheMiss 表示在缓存中未找到请求的条目，或条目已过期。
	ErrCacheMiss ErrorCode = "CACHE_MISS"
	// ErrCompressionFailed 表示压缩步骤无法完成。
	ErrCompressionFailed ErrorCode = "COMPRESSION_FAILED"
	// ErrDecompressionFailed 表示已压缩的条目无法还原。
	ErrDecompressionFailed ErrorCode = "DECOMPRESSION_FAILED"
	// ErrCodecTimeout 表示压缩或解压在限定时间内没有完成。
	ErrCodecTimeout ErrorCode = "CODEC_TIMEOUT"
	// ErrPrefetchFailed 表示单个键的预取失败。
	ErrPrefetchFailed ErrorCode = "PREFETCH_FAILED"
	// ErrQuotaExceeded 表示底层存储的硬性容量上限已被突破。
	ErrQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	// ErrSerializeFailed 表示序列化操作失败。
	ErrSerializeFailed ErrorCode = "SERIALIZE_FAILED"

	// ErrNotFound 表示上游数据源没有该键对应的数据。
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrUpstreamUnavailable 表示上游数据源暂不可用（例如熔断器处于打开状态）。
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"

	// ErrConfigInvalid 表示配置无效。
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ErrResourceClosed 表示尝试访问已关闭的资源。
	ErrResourceClosed ErrorCode = "RESOURCE_CLOSED"
)

// CacheError 是缓存体系的自定义错误类型。
// 它包含了错误代码、消息、可选的原始错误(cause)和附加上下文信息。
// CacheError 创建后视为不可变，WithContext 返回新的副本。
type CacheError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// Error 输出 "CODE: message [k=v ...] (caused by: ...)"，上下文按键名排序。
func (e *CacheError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteByte(']')
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %s)", e.Cause)
	}
	return b.String()
}

// Unwrap 允许访问被包装的原始错误(Cause)。
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码匹配，使 errors.Is(err, ErrClosed) 这类比较不依赖实例身份。
func (e *CacheError) Is(target error) bool {
	t, ok := target.(*CacheError)
	return ok && t != nil && e.Code == t.Code
}

// WithContext 返回附加了键值对的副本，原错误（包括包级预定义实例）保持不变。
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	cp := *e
	cp.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// NewCacheError 创建一个新的 CacheError。
func NewCacheError(code ErrorCode, message string) *CacheError {
	return WrapError(code, message, nil)
}

// WrapError 将一个已有的 error 包装成一个新的 CacheError，cause 可以为 nil。
func WrapError(code ErrorCode, message string, cause error) *CacheError {
	return &CacheError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// CodeOf 返回错误链中第一个 CacheError 的错误代码，不存在时返回空字符串。
func CodeOf(err error) ErrorCode {
	var cErr *CacheError
	if errors.As(err, &cErr) {
		return cErr.Code
	}
	return ""
}

// 预定义的常用错误实例，用于 errors.Is 比较
var (
	ErrCacheMissNotFound    = NewCacheError(ErrCacheMiss, "cache entry not found")
	ErrCodecTimeoutReached  = NewCacheError(ErrCodecTimeout, "codec operation timeout")
	ErrQuotaExceededLimit   = NewCacheError(ErrQuotaExceeded, "storage quota exceeded")
	ErrClosed               = NewCacheError(ErrResourceClosed, "resource is closed")
	ErrUpstreamNotFound     = NewCacheError(ErrNotFound, "upstream has no data")
	ErrInvalidConfiguration = NewCacheError(ErrConfigInvalid, "invalid configuration")
)
