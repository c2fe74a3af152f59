// Package wsconn 把 WebSocket 连接适配为字节流传输
//
// 多路复用会话只需要 io.ReadWriteCloser。WebSocket 是消息协议，
// Conn 把每次 Write 作为一条二进制消息发出，读取时把连续的消息拼接为字节流。
// 文本消息被忽略。
package wsconn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod 发送关闭消息的最长等待时间
const closeGracePeriod = time.Second

// upgrader 服务端升级参数
//
// CheckOrigin 使用默认的同源检查，没有 Origin 头的非浏览器客户端可以通过。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Conn 基于 WebSocket 的字节流
//
// Read 和 Write 可以并发调用，多个 Read（或多个 Write）之间串行。
type Conn struct {
	ws *websocket.Conn

	readMu sync.Mutex
	r      io.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ io.ReadWriteCloser = (*Conn)(nil)

// New 包装已建立的 WebSocket 连接
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Dial 连接 ws:// 或 wss:// 地址
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

// Upgrade 把 HTTP 请求升级为 WebSocket 连接
//
// 失败时 Upgrade 已经向客户端写出错误响应。
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

// Read 实现 io.Reader
//
// 对端正常关闭时返回 io.EOF。
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.r == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, mapError(err)
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, mapError(err)
		}
		return n, nil
	}
}

// Write 实现 io.Writer，p 作为一条二进制消息发出
func (c *Conn) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, mapError(err)
	}
	return len(p), nil
}

// Close 发送关闭消息并关闭底层连接，可以重复调用
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// mapError 把正常关闭映射为 io.EOF
func mapError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return io.ErrClosedPipe
	}
	return err
}
