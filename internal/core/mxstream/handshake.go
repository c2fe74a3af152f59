package mxstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// 握手报文：[magic 4][major version u8][nonce 16]
const (
	handshakeMagic = "MXS\x00"
	handshakeSize  = len(handshakeMagic) + 1 + 16
)

// errIdenticalNonce 双方生成了相同的随机数
var errIdenticalNonce = errors.New("mxstream: handshake nonces are identical")

// handshakeResult 握手结果
type handshakeResult struct {
	nonce uuid.UUID

	// oddIDs 本端使用奇数通道 ID
	oddIDs bool
}

// handshake 与对端交换握手报文
//
// 写和读并发进行，失败或 ctx 结束时关闭传输以解除阻塞。
// 随机数较大的一方使用奇数通道 ID。
func handshake(ctx context.Context, conn io.ReadWriteCloser, version int) (handshakeResult, error) {
	nonce := uuid.New()

	out := make([]byte, 0, handshakeSize)
	out = append(out, handshakeMagic...)
	out = append(out, byte(version))
	out = append(out, nonce[:]...)

	var closeOnce sync.Once
	abort := func() {
		closeOnce.Do(func() { _ = conn.Close() })
	}
	stop := context.AfterFunc(ctx, abort)

	var in [handshakeSize]byte
	var g errgroup.Group
	g.Go(func() error {
		if _, err := conn.Write(out); err != nil {
			abort()
			return fmt.Errorf("write handshake: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := io.ReadFull(conn, in[:]); err != nil {
			abort()
			return fmt.Errorf("read handshake: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if !stop() {
		return handshakeResult{}, fmt.Errorf("handshake: %w", ctx.Err())
	}
	if err != nil {
		return handshakeResult{}, err
	}

	if string(in[:len(handshakeMagic)]) != handshakeMagic {
		return handshakeResult{}, fmt.Errorf("%w: bad handshake magic %x", ErrProtocolViolation, in[:len(handshakeMagic)])
	}
	if remoteVersion := int(in[len(handshakeMagic)]); remoteVersion != version {
		return handshakeResult{}, fmt.Errorf("%w: protocol version mismatch (local %d, remote %d)",
			ErrProtocolViolation, version, remoteVersion)
	}

	remote := in[len(handshakeMagic)+1:]
	cmp := bytes.Compare(nonce[:], remote)
	if cmp == 0 {
		return handshakeResult{}, errIdenticalNonce
	}
	return handshakeResult{nonce: nonce, oddIDs: cmp > 0}, nil
}
