package pipe

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Stream 把 Duplex 适配为 io.ReadWriteCloser
//
// Read 从 Input 读取，Write 写入 Output 并 Flush（感知背压）。
// CloseWrite 只结束写方向，Close 结束两个方向。
type Stream struct {
	d Duplex

	readMu sync.Mutex
	rdone  bool

	closeOnce sync.Once
	writeOnce sync.Once
}

var _ io.ReadWriteCloser = (*Stream)(nil)

// NewStream 创建 Stream
func NewStream(d Duplex) *Stream {
	return &Stream{d: d}
}

// Read 实现 io.Reader
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.rdone {
		return 0, io.EOF
	}

	in := s.d.Input()
	for {
		res, err := in.Read(context.Background())
		if err != nil {
			if errors.Is(err, ErrReaderCompleted) {
				return 0, io.EOF
			}
			return 0, err
		}

		n := copy(p, res.Buffer)
		if aerr := in.AdvanceTo(n, n); aerr != nil {
			return n, aerr
		}
		if n > 0 {
			return n, nil
		}
		if res.IsCompleted {
			s.rdone = true
			return 0, io.EOF
		}
		if res.IsCanceled {
			return 0, io.ErrNoProgress
		}
	}
}

// Write 实现 io.Writer
func (s *Stream) Write(p []byte) (int, error) {
	out := s.d.Output()
	n, err := out.Write(p)
	if err != nil {
		if errors.Is(err, ErrWriterCompleted) {
			return n, io.ErrClosedPipe
		}
		return n, err
	}
	res, err := out.Flush(context.Background())
	if err != nil {
		if errors.Is(err, ErrWriterCompleted) {
			return n, io.ErrClosedPipe
		}
		return n, err
	}
	if res.IsCompleted {
		return n, io.ErrClosedPipe
	}
	return n, nil
}

// CloseWrite 结束写方向
func (s *Stream) CloseWrite() error {
	s.writeOnce.Do(func() {
		s.d.Output().Complete(nil)
	})
	return nil
}

// Close 结束两个方向
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseWrite()
		s.d.Input().Complete(nil)
	})
	return nil
}
