// Package pipe 定义带缓冲的双工字节管道
//
// 多路复用核心只通过本包的 Reader / Writer 接口与外部交换数据：
//   - Writer：写入字节块，Flush 感知背压，Complete 显式结束（可携带错误）
//   - Reader：读取已缓冲字节，AdvanceTo 同时报告 consumed / examined，
//     Complete 显式结束
//
// Pipe 是一个内存实现，支持暂停/恢复写入阈值。
package pipe

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrReaderCompleted 读端已结束
	ErrReaderCompleted = errors.New("pipe: reader completed")

	// ErrWriterCompleted 写端已结束
	ErrWriterCompleted = errors.New("pipe: writer completed")

	// ErrInvalidAdvance AdvanceTo 参数越界
	ErrInvalidAdvance = errors.New("pipe: advance out of range")
)

// ReadResult 一次读取的结果
//
// Buffer 在下一次 AdvanceTo 之前有效。
type ReadResult struct {
	Buffer      []byte
	IsCompleted bool // 写端已结束，Buffer 之后不会再有数据
	IsCanceled  bool // 读取被 CancelPendingRead 取消
}

// FlushResult 一次 Flush 的结果
type FlushResult struct {
	IsCompleted bool // 读端已结束，之后的写入会被丢弃
	IsCanceled  bool // Flush 被 CancelPendingFlush 取消
}

// Reader 管道读端
type Reader interface {
	// Read 等待尚未检查过的数据、写端结束或取消
	Read(ctx context.Context) (ReadResult, error)

	// AdvanceTo 报告已消费和已检查的字节数（相对上次 Read 的 Buffer）
	//
	// consumed 之前的字节被释放；[consumed, examined) 的字节保留，
	// 但在新数据到来前不会再唤醒 Read。
	AdvanceTo(consumed, examined int) error

	// CancelPendingRead 让当前（或下一次）Read 以 IsCanceled 返回
	CancelPendingRead()

	// Complete 结束读端
	Complete(err error)
}

// Writer 管道写端
type Writer interface {
	// Write 缓冲数据，不会阻塞
	Write(p []byte) (int, error)

	// Flush 在未消费字节超过暂停阈值时阻塞，直到降到恢复阈值以下
	Flush(ctx context.Context) (FlushResult, error)

	// CancelPendingFlush 让当前（或下一次）Flush 以 IsCanceled 返回
	CancelPendingFlush()

	// Complete 结束写端，err 非 nil 时读端 Read 返回该错误
	Complete(err error)
}

// Duplex 一对读写端
type Duplex interface {
	Input() Reader
	Output() Writer
}

// Options 管道参数
type Options struct {
	// PauseWriterThreshold 未消费字节达到该值时 Flush 阻塞，0 表示从不阻塞
	PauseWriterThreshold int64

	// ResumeWriterThreshold 未消费字节低于该值时恢复，0 表示取暂停阈值的一半
	ResumeWriterThreshold int64
}

// DefaultOptions 返回默认参数（64KB 暂停，32KB 恢复）
func DefaultOptions() Options {
	return Options{
		PauseWriterThreshold:  64 * 1024,
		ResumeWriterThreshold: 32 * 1024,
	}
}

func (o Options) normalize() Options {
	if o.PauseWriterThreshold < 0 {
		o.PauseWriterThreshold = 0
	}
	if o.ResumeWriterThreshold <= 0 || o.ResumeWriterThreshold > o.PauseWriterThreshold {
		o.ResumeWriterThreshold = o.PauseWriterThreshold / 2
	}
	if o.PauseWriterThreshold > 0 && o.ResumeWriterThreshold == 0 {
		o.ResumeWriterThreshold = 1
	}
	return o
}

// Pipe 内存管道
type Pipe struct {
	opts Options

	mu       sync.Mutex
	buf      []byte
	examined int  // buf 中已被读端检查过的字节数
	paused   bool // 写端处于暂停状态

	readCanceled  bool
	flushCanceled bool

	writerDone bool
	writerErr  error
	readerDone bool

	// changed 在任何状态变化时关闭并替换
	changed chan struct{}
}

// New 创建内存管道
func New(opts Options) *Pipe {
	return &Pipe{
		opts:    opts.normalize(),
		changed: make(chan struct{}),
	}
}

// Reader 返回读端
func (p *Pipe) Reader() Reader {
	return (*pipeReader)(p)
}

// Writer 返回写端
func (p *Pipe) Writer() Writer {
	return (*pipeWriter)(p)
}

// Buffered 返回未消费字节数
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// notifyLocked 唤醒所有等待者，调用方持有 mu
func (p *Pipe) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// ============================================================================
//                              读端
// ============================================================================

type pipeReader Pipe

func (r *pipeReader) Read(ctx context.Context) (ReadResult, error) {
	p := (*Pipe)(r)
	for {
		p.mu.Lock()
		if p.readerDone {
			p.mu.Unlock()
			return ReadResult{}, ErrReaderCompleted
		}
		if p.readCanceled {
			p.readCanceled = false
			res := ReadResult{Buffer: p.view(), IsCompleted: p.writerDone, IsCanceled: true}
			p.mu.Unlock()
			return res, nil
		}
		if p.writerErr != nil {
			err := p.writerErr
			p.mu.Unlock()
			return ReadResult{}, err
		}
		if len(p.buf) > p.examined || p.writerDone {
			res := ReadResult{Buffer: p.view(), IsCompleted: p.writerDone}
			p.mu.Unlock()
			return res, nil
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ReadResult{}, ctx.Err()
		}
	}
}

// view 返回容量受限的切片，写端追加不会改写读端已看到的内容
func (p *Pipe) view() []byte {
	return p.buf[:len(p.buf):len(p.buf)]
}

func (r *pipeReader) AdvanceTo(consumed, examined int) error {
	p := (*Pipe)(r)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readerDone {
		return ErrReaderCompleted
	}
	if consumed < 0 || examined < consumed || examined > len(p.buf) {
		return ErrInvalidAdvance
	}

	p.buf = p.buf[consumed:]
	if len(p.buf) == 0 {
		p.buf = nil
	}
	p.examined = examined - consumed
	p.notifyLocked()
	return nil
}

func (r *pipeReader) CancelPendingRead() {
	p := (*Pipe)(r)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readCanceled = true
	p.notifyLocked()
}

func (r *pipeReader) Complete(error) {
	p := (*Pipe)(r)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readerDone {
		return
	}
	p.readerDone = true
	p.buf = nil
	p.examined = 0
	p.notifyLocked()
}

// ============================================================================
//                              写端
// ============================================================================

type pipeWriter Pipe

func (w *pipeWriter) Write(b []byte) (int, error) {
	p := (*Pipe)(w)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writerDone {
		return 0, ErrWriterCompleted
	}
	if p.readerDone {
		// 读端已离开，丢弃数据；Flush 会报告 IsCompleted
		return len(b), nil
	}
	if len(b) == 0 {
		return 0, nil
	}
	p.buf = append(p.buf, b...)
	p.notifyLocked()
	return len(b), nil
}

func (w *pipeWriter) Flush(ctx context.Context) (FlushResult, error) {
	p := (*Pipe)(w)
	for {
		p.mu.Lock()
		if p.readerDone {
			p.mu.Unlock()
			return FlushResult{IsCompleted: true}, nil
		}
		if p.flushCanceled {
			p.flushCanceled = false
			p.mu.Unlock()
			return FlushResult{IsCanceled: true}, nil
		}
		if p.writerDone {
			p.mu.Unlock()
			return FlushResult{}, ErrWriterCompleted
		}

		buffered := int64(len(p.buf))
		pause := p.opts.PauseWriterThreshold
		if pause > 0 && buffered >= pause {
			p.paused = true
		}
		if p.paused && buffered < p.opts.ResumeWriterThreshold {
			p.paused = false
		}
		if !p.paused {
			p.mu.Unlock()
			return FlushResult{}, nil
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return FlushResult{}, ctx.Err()
		}
	}
}

func (w *pipeWriter) CancelPendingFlush() {
	p := (*Pipe)(w)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushCanceled = true
	p.notifyLocked()
}

func (w *pipeWriter) Complete(err error) {
	p := (*Pipe)(w)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerDone {
		return
	}
	p.writerDone = true
	p.writerErr = err
	p.notifyLocked()
}
