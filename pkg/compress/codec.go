// Package compress 提供搜索缓存使用的压缩编解码器和后台压缩工作池。
package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Codec 定义了字节流压缩与解压的行为。
type Codec interface {
	// Name 返回编解码器名称，如 "brotli", "gzip"。
	Name() string
	// Encode 压缩数据。
	Encode(data []byte) ([]byte, error)
	// Decode 解压数据。
	Decode(data []byte) ([]byte, error)
}

const (
	CodecBrotli = "brotli"
	CodecGzip   = "gzip"
)

// NewCodec 按名称创建编解码器，空名称默认使用 brotli
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecBrotli:
		return &Brotli{Quality: brotli.DefaultCompression}, nil
	case CodecGzip:
		return &Gzip{Level: gzip.DefaultCompression}, nil
	default:
		return nil, fmt.Errorf("不支持的压缩算法: %s", name)
	}
}

// Brotli 基于 andybalholm/brotli 的编解码器
type Brotli struct {
	Quality int
}

// Name 返回编解码器名称
func (b *Brotli) Name() string { return CodecBrotli }

// Encode 压缩数据
func (b *Brotli) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, b.Quality)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("brotli write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode 解压数据
func (b *Brotli) Decode(data []byte) ([]byte, error) {
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("brotli read: %w", err)
	}
	return out, nil
}

// Gzip 基于 compress/gzip 的编解码器
type Gzip struct {
	Level int
}

// Name 返回编解码器名称
func (g *Gzip) Name() string { return CodecGzip }

// Encode 压缩数据
func (g *Gzip) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.Level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode 解压数据
func (g *Gzip) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
