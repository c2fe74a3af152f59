package mxstream

import (
	"bufio"
	"fmt"

	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/metrics"
)

// outFrame 排队等待写出的帧
type outFrame struct {
	f frame

	// done 写出（或失败）后收到结果，可为 nil
	done chan error
}

// enqueue 把帧加入写队列
//
// done 非 nil 时必须有 1 的缓冲。会话关闭后返回 ErrSessionClosed。
func (s *Session) enqueue(f frame, done chan error) error {
	s.queueMu.Lock()
	if s.writerClosed {
		s.queueMu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, &outFrame{f: f, done: done})
	s.queueMu.Unlock()

	select {
	case s.queueSignal <- struct{}{}:
	default:
	}
	return nil
}

// sendContent 发送 Content 帧并等待写出
//
// 写循环保证每个排队的帧都会收到结果，这里不需要 ctx。
func (s *Session) sendContent(c *Channel, payload []byte) error {
	done := make(chan error, 1)
	if err := s.enqueue(newFrame(ControlContent, c.id, payload), done); err != nil {
		return err
	}
	if err := <-done; err != nil {
		return err
	}
	if s.reporter != nil {
		s.reporter.LogSentMessageChannel(int64(len(payload)), c.Name())
	}
	return nil
}

// writeLoop 串行写出帧队列
//
// 每批帧写完后统一 Flush，再通知等待者。
func (s *Session) writeLoop() {
	defer s.loops.Done()

	w := bufio.NewWriterSize(s.conn, 2*(FrameHeaderSize+FramePayloadMaxLength))
	for {
		select {
		case <-s.queueSignal:
		case <-s.ctx.Done():
			s.failPending()
			return
		}

		s.queueMu.Lock()
		batch := s.queue
		s.queue = nil
		s.queueMu.Unlock()

		if err := s.writeBatch(w, batch); err != nil {
			failFrames(batch, ErrSessionClosed)
			s.failPending()
			if s.closing.Load() {
				s.terminate(nil)
			} else {
				s.terminate(fmt.Errorf("write frame: %w", err))
			}
			return
		}
		for _, of := range batch {
			if of.done != nil {
				of.done <- nil
			}
		}
	}
}

// writeBatch 写出一批帧
func (s *Session) writeBatch(w *bufio.Writer, batch []*outFrame) error {
	for _, of := range batch {
		if of.f.header.Code == ControlContent && s.limiter != nil {
			if err := s.limiter.WaitN(s.ctx, len(of.f.payload)); err != nil {
				return err
			}
		}
		if err := of.f.writeTo(w); err != nil {
			return err
		}
		if s.reporter != nil {
			s.reporter.LogSentMessage(int64(FrameHeaderSize + len(of.f.payload)))
			s.reporter.LogFrame(metrics.DirOut, of.f.header.Code.String())
		}
	}
	return w.Flush()
}

// failPending 关闭写队列并让所有等待者失败
func (s *Session) failPending() {
	s.queueMu.Lock()
	s.writerClosed = true
	pending := s.queue
	s.queue = nil
	s.queueMu.Unlock()
	failFrames(pending, ErrSessionClosed)
}

func failFrames(frames []*outFrame, err error) {
	for _, of := range frames {
		if of.done != nil {
			select {
			case of.done <- err:
			default:
			}
		}
	}
}
