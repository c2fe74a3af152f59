package wsconn

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair 通过 httptest 服务器建立一对连接
func wsPair(t *testing.T) (client, server *Conn) {
	t.Helper()

	accepted := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- c
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("服务端未收到连接")
	}
	return client, server
}

// TestConn_ReadWrite 测试字节流跨消息读取
func TestConn_ReadWrite(t *testing.T) {
	client, server := wsPair(t)
	defer client.Close()
	defer server.Close()

	n, err := client.Write([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, err = client.Write([]byte("world"))
	require.NoError(t, err)

	buf := make([]byte, 11)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))
}

// TestConn_SmallReads 测试读缓冲小于消息时分多次读取
func TestConn_SmallReads(t *testing.T) {
	client, server := wsPair(t)
	defer client.Close()
	defer server.Close()

	_, err := server.Write([]byte("abcdef"))
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 4)
	for len(got) < 6 {
		n, err := client.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "abcdef", string(got))
}

// TestConn_IgnoresTextMessages 测试文本消息被跳过
func TestConn_IgnoresTextMessages(t *testing.T) {
	client, server := wsPair(t)
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.ws.WriteMessage(websocket.TextMessage, []byte("noise")))
	_, err := client.Write([]byte("data"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf))
}

// TestConn_CloseIsEOF 测试对端关闭后读到 EOF
func TestConn_CloseIsEOF(t *testing.T) {
	client, server := wsPair(t)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "重复关闭")

	_, err := server.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	_ = server.Close()
}

// TestConn_EmptyWrite 测试空写入不发送消息
func TestConn_EmptyWrite(t *testing.T) {
	client, server := wsPair(t)
	defer client.Close()
	defer server.Close()

	n, err := client.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = server.Read(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
