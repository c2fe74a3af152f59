package pipe

import (
	"context"
	"errors"
)

// duplex 组合一对读写端
type duplex struct {
	r Reader
	w Writer
}

func (d *duplex) Input() Reader  { return d.r }
func (d *duplex) Output() Writer { return d.w }

// NewDuplex 把读端和写端组合为 Duplex
func NewDuplex(r Reader, w Writer) Duplex {
	return &duplex{r: r, w: w}
}

// NewPair 创建两个相互连接的 Duplex
//
// a 写入的数据由 b 读出，反之亦然。
func NewPair(aToB, bToA Options) (a, b Duplex) {
	p1 := New(aToB)
	p2 := New(bToA)
	return NewDuplex(p2.Reader(), p1.Writer()), NewDuplex(p1.Reader(), p2.Writer())
}

// Link 把 r 的全部数据搬运到 w
//
// r 结束（正常或错误）后返回。propagateCompletion 为 true 时
// 用 r 的结束状态完成 w；无论如何 r 都会被完成。
// w 的读端离开时停止搬运并返回 nil。
func Link(ctx context.Context, r Reader, w Writer, propagateCompletion bool) (err error) {
	defer func() {
		r.Complete(err)
		if propagateCompletion {
			w.Complete(err)
		}
	}()

	for {
		res, rerr := r.Read(ctx)
		if rerr != nil {
			if errors.Is(rerr, ErrReaderCompleted) {
				return nil
			}
			return rerr
		}

		n := len(res.Buffer)
		if n > 0 {
			if _, werr := w.Write(res.Buffer); werr != nil {
				return werr
			}
		}
		if err := r.AdvanceTo(n, n); err != nil {
			return err
		}

		fres, ferr := w.Flush(ctx)
		if ferr != nil {
			return ferr
		}
		if fres.IsCompleted || res.IsCompleted || res.IsCanceled {
			return nil
		}
	}
}
