package mxstream

import (
	"bufio"
	"fmt"

	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/metrics"
)

// readLoop 按顺序读取并分发帧
//
// 分发过程从不同步写传输，所有出站帧都经过写循环。
func (s *Session) readLoop() {
	defer s.loops.Done()
	defer close(s.offerEvents)

	r := bufio.NewReaderSize(s.conn, FrameHeaderSize+FramePayloadMaxLength)
	hdr := make([]byte, FrameHeaderSize)
	buf := make([]byte, FramePayloadMaxLength)

	for {
		h, payload, err := readFrame(r, hdr, buf)
		if err != nil {
			if s.closing.Load() || isTransportEOF(err) {
				s.terminate(nil)
			} else {
				s.terminate(fmt.Errorf("read frame: %w", err))
			}
			return
		}

		if s.reporter != nil {
			s.reporter.LogRecvMessage(int64(FrameHeaderSize + len(payload)))
			s.reporter.LogFrame(metrics.DirIn, h.Code.String())
		}

		if err := s.dispatch(h, payload); err != nil {
			s.terminate(err)
			return
		}
	}
}

// dispatch 处理一个帧，返回的错误使会话终止
func (s *Session) dispatch(h FrameHeader, payload []byte) error {
	if h.Code == ControlOffer {
		return s.onOffer(h.ChannelID, payload)
	}

	ch := s.lookup(h.ChannelID)
	if ch == nil {
		// 通道可能刚被本端释放，对端尚未收到终止帧
		s.logger.Debug("丢弃未知通道的帧", "code", h.Code, "channel", h.ChannelID, "bytes", len(payload))
		return nil
	}

	switch h.Code {
	case ControlOfferAccepted:
		if !ch.offeredLocally {
			return fmt.Errorf("%w: acceptance for remotely offered channel %d", ErrProtocolViolation, h.ChannelID)
		}
		params, err := DecodeAcceptanceParameters(payload)
		if err != nil {
			return err
		}
		if ch.onAccepted(params) {
			ch.log().Debug("提议已被接受", "window", params.RemoteWindowSize)
		}

	case ControlOfferRejected:
		if !ch.offeredLocally {
			return fmt.Errorf("%w: rejection for remotely offered channel %d", ErrProtocolViolation, h.ChannelID)
		}
		ch.log().Debug("提议被拒绝")
		ch.onRemoteTerminated(ErrChannelRejected)

	case ControlOfferCanceled:
		if ch.offeredLocally {
			return fmt.Errorf("%w: cancellation for locally offered channel %d", ErrProtocolViolation, h.ChannelID)
		}
		s.dequeueOffer(ch)
		ch.log().Debug("提议被撤销")
		ch.onRemoteTerminated(ErrOfferCanceled)

	case ControlContent:
		if s.reporter != nil {
			s.reporter.LogRecvMessageChannel(int64(len(payload)), ch.Name())
		}
		if err := ch.onContent(payload); err != nil {
			if isProtocolViolation(err) {
				return err
			}
			ch.fault(err)
		}

	case ControlContentWritingCompleted:
		// 迁移中可能需要等待，不阻塞读循环
		go ch.onContentWritingCompleted()

	case ControlContentProcessed:
		n, err := decodeContentProcessed(payload)
		if err != nil {
			return err
		}
		if err := ch.onContentProcessed(n); err != nil {
			ch.fault(err)
		}

	case ControlChannelTerminated:
		ch.log().Debug("对端终止通道")
		ch.onRemoteTerminated(nil)
	}
	return nil
}

// onOffer 处理对端提议
func (s *Session) onOffer(id uint32, payload []byte) error {
	params, err := DecodeOfferParameters(payload)
	if err != nil {
		return err
	}
	if (id%2 == 1) == s.oddIDs {
		return fmt.Errorf("%w: offer for channel %d uses the local id space", ErrProtocolViolation, id)
	}

	ch := newChannel(s, id, false, params)

	s.channelsMu.Lock()
	if _, exists := s.channels[id]; exists {
		s.channelsMu.Unlock()
		return fmt.Errorf("%w: duplicate offer for channel %d", ErrProtocolViolation, id)
	}
	s.channels[id] = ch

	var waiter *acceptWaiter
	if params.Name != "" {
		if ws := s.acceptWaiters[params.Name]; len(ws) > 0 {
			waiter = ws[0]
			if len(ws) == 1 {
				delete(s.acceptWaiters, params.Name)
			} else {
				s.acceptWaiters[params.Name] = ws[1:]
			}
		} else {
			s.offeredByName[params.Name] = append(s.offeredByName[params.Name], ch)
		}
	}
	s.channelsMu.Unlock()

	s.channelOpened()
	ch.log().Debug("收到通道提议", "window", params.RemoteWindowSize)
	s.publishOffer(ChannelOfferEvent{ID: id, Name: params.Name, IsAccepted: waiter != nil})

	if waiter != nil {
		go func() {
			ok, err := ch.tryAcceptOffer(waiter.opts)
			switch {
			case err != nil:
				waiter.result <- acceptResult{err: err}
			case !ok:
				waiter.result <- acceptResult{err: fmt.Errorf("%w: channel %d", ErrOfferAlreadyResolved, id)}
			default:
				waiter.result <- acceptResult{ch: ch}
			}
		}()
	}
	return nil
}

// publishOffer 发布提议通知，缓冲满时丢弃
func (s *Session) publishOffer(ev ChannelOfferEvent) {
	select {
	case s.offerEvents <- ev:
	default:
		dropped := s.droppedOffers.Add(1)
		s.logger.Warn("提议通知缓冲已满，丢弃通知", "channel", ev.ID, "name", ev.Name, "dropped", dropped)
	}
}

func (s *Session) channelOpened() {
	if s.reporter != nil {
		s.reporter.ChannelOpened()
	}
}

func (s *Session) channelClosed() {
	if s.reporter != nil {
		s.reporter.ChannelClosed()
	}
}
