package mxstream

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/util/syncx"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
)

// TestChannel_ExistingPipe 测试使用调用方提供的管道
func TestChannel_ExistingPipe(t *testing.T) {
	a, b := testSessionPair(t, DefaultOptions())

	user, channelSide := pipe.NewPair(pipe.DefaultOptions(), pipe.DefaultOptions())
	ca, cb := testChannelPair(t, a, b, "existing", nil, &ChannelOptions{ExistingPipe: channelSide})

	_, err := cb.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrUnsupportedWithExistingPipe)
	_, err = cb.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedWithExistingPipe)
	_, err = cb.Input()
	assert.ErrorIs(t, err, ErrUnsupportedWithExistingPipe)
	_, err = cb.Output()
	assert.ErrorIs(t, err, ErrUnsupportedWithExistingPipe)
	assert.ErrorIs(t, cb.CloseWrite(), ErrUnsupportedWithExistingPipe)

	// 对端数据写入调用方管道
	_, err = ca.Write([]byte("to the pipe"))
	require.NoError(t, err)
	require.NoError(t, ca.CloseWrite())

	us := pipe.NewStream(user)
	assert.Equal(t, "to the pipe", string(readAllWithin(t, us)))

	// 调用方管道的数据发往对端
	_, err = us.Write([]byte("from the pipe"))
	require.NoError(t, err)
	require.NoError(t, us.CloseWrite())
	assert.Equal(t, "from the pipe", string(readAllWithin(t, ca)))

	waitClosed(t, cb.Completion(), "existing pipe channel completion")
	waitClosed(t, ca.Completion(), "offered channel completion")
}

// TestChannel_InvalidOptions 测试非法通道选项
func TestChannel_InvalidOptions(t *testing.T) {
	a, _ := testSessionPair(t, DefaultOptions())

	_, channelSide := pipe.NewPair(pipe.Options{}, pipe.Options{})
	opts := &ChannelOptions{
		ExistingPipe:     channelSide,
		InputPipeOptions: &pipe.Options{PauseWriterThreshold: 10},
	}
	_, err := a.OfferChannel(context.Background(), "bad", opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = a.AcceptChannelByName(context.Background(), "bad", opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Zero(t, a.NumChannels())
}

// TestChannel_ReceivingWindow 测试接收窗口取自输入管道阈值
func TestChannel_ReceivingWindow(t *testing.T) {
	var opts *ChannelOptions
	assert.Equal(t, int64(100), opts.receivingWindow(100))

	opts = &ChannelOptions{InputPipeOptions: &pipe.Options{}}
	assert.Equal(t, int64(100), opts.receivingWindow(100))

	opts = &ChannelOptions{InputPipeOptions: &pipe.Options{PauseWriterThreshold: 7}}
	assert.Equal(t, int64(7), opts.receivingWindow(100))
}

// acceptWithoutOptions 记录接受但暂不应用选项，模拟数据先于选项到达
func acceptWithoutOptions(t *testing.T, s *Session, peer *rawPeer, id uint32, window int64) *Channel {
	t.Helper()

	peer.offer(id, "early", 1<<20)
	<-s.ChannelOffered()
	ch := s.lookup(id)
	require.NotNil(t, ch)

	ch.mu.Lock()
	ch.localWindowSize = window
	require.True(t, ch.acceptance.TryResolve(AcceptanceParameters{RemoteWindowSize: window}))
	ch.mu.Unlock()
	return ch
}

// TestChannel_MigrateToExistingPipe 测试提前到达的数据迁移到调用方管道
func TestChannel_MigrateToExistingPipe(t *testing.T) {
	s, peer := newRawPeer(t, DefaultOptions())
	ch := acceptWithoutOptions(t, s, peer, 2, 1024)

	require.NoError(t, ch.onContent([]byte("early ")))

	user, channelSide := pipe.NewPair(pipe.Options{}, pipe.Options{})
	ch.applyOptions(&ChannelOptions{ExistingPipe: channelSide})

	us := pipe.NewStream(user)
	buf := make([]byte, 6)
	_, err := io.ReadFull(us, buf)
	require.NoError(t, err)
	assert.Equal(t, "early ", string(buf))

	// 迁移结束时确认临时管道中的数据
	f := peer.expect(ControlContentProcessed, 2)
	n, err := decodeContentProcessed(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	// 之后的数据直接进入调用方管道并立即确认
	peer.send(ControlContent, 2, []byte("late"))
	buf = make([]byte, 4)
	_, err = io.ReadFull(us, buf)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf))

	f = peer.expect(ControlContentProcessed, 2)
	n, err = decodeContentProcessed(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	ch.mu.Lock()
	assert.Equal(t, receiveExternal, ch.receive.mode)
	assert.Zero(t, ch.localWindowFilled)
	ch.mu.Unlock()
}

// TestChannel_MigrateToInputPipe 测试提前到达的数据迁移到按选项创建的接收管道
func TestChannel_MigrateToInputPipe(t *testing.T) {
	s, peer := newRawPeer(t, DefaultOptions())
	ch := acceptWithoutOptions(t, s, peer, 2, 4095)

	require.NoError(t, ch.onContent([]byte("early ")))
	ch.applyOptions(&ChannelOptions{InputPipeOptions: &pipe.Options{PauseWriterThreshold: 4096}})

	buf := make([]byte, 6)
	_, err := io.ReadFull(ch, buf)
	require.NoError(t, err)
	assert.Equal(t, "early ", string(buf))

	peer.send(ControlContent, 2, []byte("late"))
	peer.send(ControlContentWritingCompleted, 2, nil)
	assert.Equal(t, "late", string(readAllWithin(t, ch)))

	ch.mu.Lock()
	assert.Equal(t, receiveInternal, ch.receive.mode)
	ch.mu.Unlock()
}

// TestChannel_RemoteDoneBeforeOptions 测试选项应用前对端已结束写入
func TestChannel_RemoteDoneBeforeOptions(t *testing.T) {
	s, peer := newRawPeer(t, DefaultOptions())
	ch := acceptWithoutOptions(t, s, peer, 2, 1024)

	require.NoError(t, ch.onContent([]byte("all of it")))
	ch.onContentWritingCompleted()
	assert.False(t, ch.receiveWriterCompleted.IsSet())

	user, channelSide := pipe.NewPair(pipe.Options{}, pipe.Options{})
	ch.applyOptions(&ChannelOptions{ExistingPipe: channelSide})

	assert.Equal(t, "all of it", string(readAllWithin(t, pipe.NewStream(user))))
	waitClosed(t, ch.receiveWriterCompleted.C(), "receive side completion")
}

// TestChannel_DisposeBeforeAcceptance 测试未接受时释放
func TestChannel_DisposeBeforeAcceptance(t *testing.T) {
	s, peer := newRawPeer(t, DefaultOptions())

	ch, err := s.CreateChannel(nil)
	require.NoError(t, err)
	peer.expect(ControlOffer, ch.ID())

	require.NoError(t, ch.Close())
	waitClosed(t, ch.Completion(), "channel completion")
	assert.True(t, ch.IsDisposed())
	assert.Equal(t, syncx.FutureCanceled, ch.acceptance.State())

	peer.expect(ControlOfferCanceled, ch.ID())

	// 对端此时才接受，帧被丢弃
	peer.accept(ch.ID(), 1024)
	peer.expectNone(50 * time.Millisecond)
	assert.False(t, s.IsClosed())
}

// TestChannel_WriteBeforeAccept 测试未接受的远端通道不能读写
func TestChannel_WriteBeforeAccept(t *testing.T) {
	s, peer := newRawPeer(t, DefaultOptions())

	peer.offer(2, "pending", 1024)
	<-s.ChannelOffered()
	ch := s.lookup(2)
	require.NotNil(t, ch)

	_, err := ch.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrChannelNotFound)
	assert.NoError(t, ch.CloseWrite())

	ok, err := ch.Accept(nil)
	require.NoError(t, err)
	assert.True(t, ok)
	peer.expect(ControlOfferAccepted, 2)

	_, err = ch.Write([]byte("x"))
	assert.NoError(t, err)
	peer.expect(ControlContent, 2)
}

// TestChannel_PauseThresholdOne 测试接收阈值为 1 的选项被拒绝
func TestChannel_PauseThresholdOne(t *testing.T) {
	s, peer := newRawPeer(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	tiny := &ChannelOptions{InputPipeOptions: &pipe.Options{PauseWriterThreshold: 1}}

	_, err := s.OfferChannel(ctx, "tiny", tiny)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = s.AcceptChannelByName(ctx, "tiny", tiny)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	peer.offer(2, "tiny", 1<<20)
	<-s.ChannelOffered()
	_, err = s.AcceptChannel(ctx, 2, tiny)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	peer.expectNone(50 * time.Millisecond)

	// 提议仍可用合法选项接受
	_, err = s.AcceptChannel(ctx, 2, &ChannelOptions{InputPipeOptions: &pipe.Options{PauseWriterThreshold: 2}})
	require.NoError(t, err)
	f := peer.expect(ControlOfferAccepted, 2)
	params, err := DecodeAcceptanceParameters(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), params.RemoteWindowSize)
}

// TestChannel_SmallWindowDoesNotBlockOthers 测试填满最小窗口的通道不阻塞其他通道
func TestChannel_SmallWindowDoesNotBlockOthers(t *testing.T) {
	s, peer := newRawPeer(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	peer.offer(2, "small", 1<<20)
	<-s.ChannelOffered()
	_, err := s.AcceptChannel(ctx, 2, &ChannelOptions{InputPipeOptions: &pipe.Options{PauseWriterThreshold: 2}})
	require.NoError(t, err)
	peer.expect(ControlOfferAccepted, 2)

	peer.offer(4, "other", 1<<20)
	<-s.ChannelOffered()
	other, err := s.AcceptChannel(ctx, 4, nil)
	require.NoError(t, err)
	peer.expect(ControlOfferAccepted, 4)

	// 通道 2 的数据无人读取
	peer.send(ControlContent, 2, []byte("x"))
	peer.send(ControlContent, 4, []byte("y"))

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 1)
		if _, err := io.ReadFull(other, buf); err == nil {
			got <- string(buf)
		}
	}()
	select {
	case v := <-got:
		assert.Equal(t, "y", v)
	case <-time.After(testTimeout):
		t.Fatal("other channel did not receive data")
	}
}

// TestChannel_SendFailureFaultsChannel 测试发送失败时通道以会话关闭错误释放
func TestChannel_SendFailureFaultsChannel(t *testing.T) {
	a, b := testSessionPair(t, DefaultOptions())
	ca, _ := testChannelPair(t, a, b, "send-fail", nil, nil)

	// 写队列关闭但会话未终止，只有中继会看到发送失败
	a.queueMu.Lock()
	a.writerClosed = true
	a.queueMu.Unlock()

	_, err := ca.Write([]byte("lost"))
	require.NoError(t, err)

	require.Eventually(t, ca.IsDisposed, testTimeout, 10*time.Millisecond)
	assert.ErrorIs(t, ca.Err(), ErrSessionClosed)
	assert.False(t, a.IsClosed())
}
