package mxstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testTimeout = 5 * time.Second

// testConnPair 创建测试用的 TCP 连接对
func testConnPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var serverConn net.Conn
	done := make(chan struct{})
	go func() {
		serverConn, _ = ln.Accept()
		close(done)
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-done
	require.NotNil(t, serverConn)

	return clientConn, serverConn
}

// testSessionPairOn 在给定连接上并发建立两个会话
func testSessionPairOn(t *testing.T, c1, c2 io.ReadWriteCloser, optsA, optsB Options) (*Session, *Session) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var a, b *Session
	var g errgroup.Group
	g.Go(func() (err error) {
		a, err = NewSession(ctx, c1, optsA)
		return err
	})
	g.Go(func() (err error) {
		b, err = NewSession(ctx, c2, optsB)
		return err
	})
	require.NoError(t, g.Wait())

	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// testSessionPair 在 net.Pipe 上建立两个会话
func testSessionPair(t *testing.T, opts Options) (*Session, *Session) {
	t.Helper()
	c1, c2 := net.Pipe()
	return testSessionPairOn(t, c1, c2, opts, opts)
}

// testChannelPair 在会话对上建立名为 name 的通道
func testChannelPair(t *testing.T, a, b *Session, name string, optsA, optsB *ChannelOptions) (*Channel, *Channel) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var offered, accepted *Channel
	var g errgroup.Group
	g.Go(func() (err error) {
		offered, err = a.OfferChannel(ctx, name, optsA)
		return err
	})
	g.Go(func() (err error) {
		accepted, err = b.AcceptChannelByName(ctx, name, optsB)
		return err
	})
	require.NoError(t, g.Wait())
	return offered, accepted
}

// waitClosed 等待通道关闭
func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// ============================================================================
//                              原始帧对端
// ============================================================================

// rawFrame 对端收到的帧
type rawFrame struct {
	FrameHeader
	Payload []byte
}

// rawPeer 直接读写帧的测试对端
//
// 握手随机数全为 0，被测会话总是使用奇数 ID，对端使用偶数 ID。
type rawPeer struct {
	t      *testing.T
	conn   net.Conn
	frames chan rawFrame
}

// newRawPeer 创建会话和原始帧对端
func newRawPeer(t *testing.T, opts Options) (*Session, *rawPeer) {
	t.Helper()

	c1, c2 := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	type result struct {
		s   *Session
		err error
	}
	res := make(chan result, 1)
	go func() {
		s, err := NewSession(ctx, c1, opts)
		res <- result{s, err}
	}()

	hs := make([]byte, 0, handshakeSize)
	hs = append(hs, handshakeMagic...)
	hs = append(hs, byte(opts.ProtocolMajorVersion))
	hs = append(hs, make([]byte, 16)...)

	var g errgroup.Group
	g.Go(func() error {
		_, err := c2.Write(hs)
		return err
	})
	in := make([]byte, handshakeSize)
	_, err := io.ReadFull(c2, in)
	require.NoError(t, err)
	require.NoError(t, g.Wait())

	r := <-res
	require.NoError(t, r.err)

	p := &rawPeer{t: t, conn: c2, frames: make(chan rawFrame, 1024)}
	go p.readLoop()

	t.Cleanup(func() {
		_ = r.s.Close()
		_ = c2.Close()
	})
	return r.s, p
}

func (p *rawPeer) readLoop() {
	defer close(p.frames)
	hdr := make([]byte, FrameHeaderSize)
	buf := make([]byte, FramePayloadMaxLength)
	for {
		h, payload, err := readFrame(p.conn, hdr, buf)
		if err != nil {
			return
		}
		p.frames <- rawFrame{FrameHeader: h, Payload: bytes.Clone(payload)}
	}
}

// send 向会话写一个帧
func (p *rawPeer) send(code ControlCode, id uint32, payload []byte) {
	p.t.Helper()
	require.NoError(p.t, newFrame(code, id, payload).writeTo(p.conn))
}

// next 读取下一个帧
func (p *rawPeer) next() rawFrame {
	p.t.Helper()
	select {
	case f, ok := <-p.frames:
		require.True(p.t, ok, "transport closed")
		return f
	case <-time.After(testTimeout):
		p.t.Fatal("timed out waiting for a frame")
		return rawFrame{}
	}
}

// expect 读取下一个帧并检查控制码和通道
func (p *rawPeer) expect(code ControlCode, id uint32) rawFrame {
	p.t.Helper()
	f := p.next()
	require.Equal(p.t, code, f.Code, "unexpected frame %s on channel %d", f.Code, f.ChannelID)
	require.Equal(p.t, id, f.ChannelID)
	return f
}

// expectNone 在 d 内不应收到帧
func (p *rawPeer) expectNone(d time.Duration) {
	p.t.Helper()
	select {
	case f, ok := <-p.frames:
		if ok {
			p.t.Fatalf("unexpected frame %s on channel %d (%d bytes)", f.Code, f.ChannelID, len(f.Payload))
		}
	case <-time.After(d):
	}
}

// offer 对端提议通道
func (p *rawPeer) offer(id uint32, name string, window int64) {
	p.send(ControlOffer, id, OfferParameters{Name: name, RemoteWindowSize: window}.Encode())
}

// accept 对端接受会话的提议
func (p *rawPeer) accept(id uint32, window int64) {
	p.send(ControlOfferAccepted, id, AcceptanceParameters{RemoteWindowSize: window}.Encode())
}

// ack 对端确认已处理 n 字节
func (p *rawPeer) ack(id uint32, n int64) {
	p.send(ControlContentProcessed, id, encodeContentProcessed(n))
}

// readAllWithin 在超时内读完通道
func readAllWithin(t *testing.T, r io.Reader) []byte {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	res := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		res <- result{data, err}
	}()
	select {
	case r := <-res:
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			require.NoError(t, r.err)
		}
		return r.data
	case <-time.After(testTimeout):
		t.Fatal("timed out reading channel")
		return nil
	}
}
