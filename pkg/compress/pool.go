package compress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mestore/pkg/core"
	"mestore/pkg/logger"
)

type opKind int

const (
	opEncode opKind = iota
	opDecode
)

func (k opKind) String() string {
	if k == opEncode {
		return "encode"
	}
	return "decode"
}

// job 是发送给工作协程的一次请求，只通过消息传递交互
type job struct {
	id    string
	op    opKind
	data  []byte
	reply chan result
}

// result 是工作协程按请求ID回复的结果
type result struct {
	id   string
	data []byte
	err  error
}

// Pool 后台压缩工作池。
// 工作协程本身无状态，调用方通过带请求ID的消息与之通信，并由 ctx 控制等待上限。
type Pool struct {
	codec   Codec
	jobs    chan job
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	workers int
	logger  *logrus.Entry
}

// NewPool 创建并启动压缩工作池
func NewPool(codec Codec, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	p := &Pool{
		codec:   codec,
		jobs:    make(chan job),
		closed:  make(chan struct{}),
		workers: workers,
		logger:  logger.WithComponent("compress").WithField("codec", codec.Name()),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Codec 返回工作池使用的编解码器
func (p *Pool) Codec() Codec {
	return p.codec
}

// Compress 压缩数据，ctx 到期时返回 CODEC_TIMEOUT
func (p *Pool) Compress(ctx context.Context, data []byte) ([]byte, error) {
	out, err := p.submit(ctx, opEncode, data)
	if err != nil && core.CodeOf(err) == "" {
		return nil, core.WrapError(core.ErrCompressionFailed, "compression failed", err)
	}
	return out, err
}

// Decompress 解压数据，ctx 到期时返回 CODEC_TIMEOUT
func (p *Pool) Decompress(ctx context.Context, data []byte) ([]byte, error) {
	out, err := p.submit(ctx, opDecode, data)
	if err != nil && core.CodeOf(err) == "" {
		return nil, core.WrapError(core.ErrDecompressionFailed, "decompression failed", err)
	}
	return out, err
}

// Close 停止所有工作协程，可重复调用
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.closed)
		p.wg.Wait()
		p.logger.Debug("压缩工作池已关闭")
	})
}

func (p *Pool) submit(ctx context.Context, op opKind, data []byte) ([]byte, error) {
	j := job{
		id:    uuid.NewString(),
		op:    op,
		data:  data,
		reply: make(chan result, 1),
	}

	select {
	case <-p.closed:
		return nil, core.ErrClosed
	default:
	}

	select {
	case p.jobs <- j:
	case <-p.closed:
		return nil, core.ErrClosed
	case <-ctx.Done():
		return nil, timeoutError(op, ctx.Err())
	}

	select {
	case res := <-j.reply:
		if res.id != j.id {
			return nil, fmt.Errorf("reply id %s does not match request %s", res.id, j.id)
		}
		return res.data, res.err
	case <-ctx.Done():
		// 工作协程稍后写入的结果会留在带缓冲的 reply 中被丢弃
		return nil, timeoutError(op, ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.jobs:
			j.reply <- p.run(j)
		case <-p.closed:
			return
		}
	}
}

func (p *Pool) run(j job) (res result) {
	res.id = j.id
	defer func() {
		if r := recover(); r != nil {
			res.data = nil
			res.err = fmt.Errorf("codec panic: %v", r)
		}
	}()

	switch j.op {
	case opEncode:
		res.data, res.err = p.codec.Encode(j.data)
	case opDecode:
		res.data, res.err = p.codec.Decode(j.data)
	}

	if res.err != nil {
		p.logger.WithError(res.err).WithField("request_id", j.id).Debugf("%s 失败", j.op)
	}
	return res
}

func timeoutError(op opKind, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return core.WrapError(core.ErrCodecTimeout, op.String()+" canceled", cause)
	}
	return core.WrapError(core.ErrCodecTimeout, op.String()+" timed out", cause)
}
