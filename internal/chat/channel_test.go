package chat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailtrail/internal/models"
)

// sessionStub is a fixed-identity Session.
type sessionStub struct {
	token  string
	userID string
}

func (s sessionStub) Token() string  { return s.token }
func (s sessionStub) UserID() string { return s.userID }

// wsServer is a test websocket endpoint that records what it sees and lets
// tests push frames down to the client.
type wsServer struct {
	t       *testing.T
	server  *httptest.Server
	upgrade websocket.Upgrader

	mu       sync.Mutex
	path     string
	auth     string
	conn     *websocket.Conn
	inbound  []frame
	accepted chan struct{}
	frames   chan frame

	// holdOpen, when set, keeps the server side of the socket open after a
	// read failure so tests can break only the client's write path.
	holdOpen chan struct{}
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		t:        t,
		accepted: make(chan struct{}, 1),
		frames:   make(chan frame, 16),
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.path = r.URL.Path
		s.auth = r.Header.Get("Authorization")
		s.mu.Unlock()

		conn, err := s.upgrade.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.accepted <- struct{}{}

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				if s.holdOpen != nil {
					<-s.holdOpen
				}
				return
			}
			s.mu.Lock()
			s.inbound = append(s.inbound, f)
			s.mu.Unlock()
			s.frames <- f
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *wsServer) push(t *testing.T, frameType string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteJSON(frame{Type: frameType, Data: payload}))
}

func (s *wsServer) requestPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *wsServer) authHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

func (s *wsServer) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.inbound {
		if f.Type == frameTypePing {
			n++
		}
	}
	return n
}

func (s *wsServer) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func connectedChannel(t *testing.T, server *wsServer, chatID string, opts Options) *Channel {
	t.Helper()
	opts.WSBaseURL = server.wsURL()
	c, err := NewChannel(chatID, sessionStub{token: "token-1", userID: "u-1"}, opts)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)

	select {
	case <-server.accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted the connection")
	}
	return c
}

func TestNewChannel_Validation(t *testing.T) {
	t.Parallel()

	sess := sessionStub{token: "t", userID: "u"}
	_, err := NewChannel("", sess, Options{WSBaseURL: "ws://localhost:8080"})
	assert.Error(t, err)

	_, err = NewChannel("c-1", sess, Options{})
	assert.Error(t, err)

	c, err := NewChannel("c-1", sess, Options{WSBaseURL: "ws://localhost:8080"})
	require.NoError(t, err)
	assert.Equal(t, Disconnected, c.State())
}

func TestChannel_ConnectRequiresSession(t *testing.T) {
	t.Parallel()

	c, err := NewChannel("c-1", sessionStub{}, Options{WSBaseURL: "ws://localhost:8080"})
	require.NoError(t, err)

	err = c.Connect(context.Background())
	assert.True(t, models.IsCode(err, models.CodeUnauthorized))
	assert.Equal(t, Disconnected, c.State())
}

func TestChannel_ConnectDialsUserEndpointWithBearer(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	assert.Equal(t, Connected, c.State())
	assert.Equal(t, "/api/v1/websocket/ws/u-1", server.requestPath())
	assert.Equal(t, "Bearer token-1", server.authHeader())
}

func TestChannel_ConnectTwiceIsNoop(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())
}

func TestChannel_ConnectFailureStaysDisconnected(t *testing.T) {
	t.Parallel()

	c, err := NewChannel("c-1", sessionStub{token: "t", userID: "u"}, Options{
		WSBaseURL:        "ws://localhost:1",
		HandshakeTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Error(t, c.Connect(context.Background()))
	assert.Equal(t, Disconnected, c.State())
}

func TestChannel_DeliversMessagesForThisConversation(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	server.push(t, frameTypeNewMessage, models.Message{ID: "m-1", ChatID: "c-1", Content: "seen him near the creek"})

	select {
	case msg := <-c.Messages():
		assert.Equal(t, "m-1", msg.ID)
		assert.Equal(t, "seen him near the creek", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestChannel_DropsMessagesForOtherConversations(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	server.push(t, frameTypeNewMessage, models.Message{ID: "m-other", ChatID: "c-2", Content: "wrong room"})
	server.push(t, frameTypeNewMessage, models.Message{ID: "m-mine", ChatID: "c-1", Content: "right room"})

	select {
	case msg := <-c.Messages():
		assert.Equal(t, "m-mine", msg.ID, "the other conversation's frame must be dropped")
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestChannel_IgnoresUnknownAndMalformedFrames(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	server.push(t, "user_typing", map[string]string{"user_id": "u-2"})
	server.mu.Lock()
	require.NoError(t, server.conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	server.mu.Unlock()
	server.push(t, frameTypeNewMessage, models.Message{ID: "m-1", ChatID: "c-1"})

	select {
	case msg := <-c.Messages():
		assert.Equal(t, "m-1", msg.ID)
	case <-time.After(time.Second):
		t.Fatal("channel stopped delivering after unknown frames")
	}
	assert.Equal(t, Connected, c.State())
}

func TestChannel_SendTransmitsTaggedFrame(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	require.NoError(t, c.Send("  is this your dog?  "))

	select {
	case f := <-server.frames:
		assert.Equal(t, frameTypeSendMessage, f.Type)
		var data sendMessageData
		require.NoError(t, json.Unmarshal(f.Data, &data))
		assert.Equal(t, "c-1", data.ChatID)
		assert.Equal(t, "is this your dog?", data.Content, "content is trimmed")
	case <-time.After(time.Second):
		t.Fatal("frame never arrived")
	}
}

func TestChannel_SendRejectsEmpty(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	assert.Error(t, c.Send(""))
	assert.Error(t, c.Send("   \n\t  "))
}

func TestChannel_SendRequiresConnection(t *testing.T) {
	t.Parallel()

	c, err := NewChannel("c-1", sessionStub{token: "t", userID: "u"}, Options{WSBaseURL: "ws://localhost:8080"})
	require.NoError(t, err)

	assert.ErrorIs(t, c.Send("hello"), ErrNotConnected)
}

func TestChannel_PingKeepAlive(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	_ = connectedChannel(t, server, "c-1", Options{PingInterval: 30 * time.Millisecond})

	deadline := time.After(2 * time.Second)
	pings := 0
	for pings < 2 {
		select {
		case f := <-server.frames:
			if f.Type == frameTypePing {
				pings++
			}
		case <-deadline:
			t.Fatalf("expected at least 2 pings, got %d", pings)
		}
	}
}

func TestChannel_PingWriteFailureTearsDown(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	server.holdOpen = make(chan struct{})
	t.Cleanup(func() { close(server.holdOpen) })

	c := connectedChannel(t, server, "c-1", Options{PingInterval: 20 * time.Millisecond})

	select {
	case f := <-server.frames:
		require.Equal(t, frameTypePing, f.Type)
	case <-time.After(time.Second):
		t.Fatal("no ping arrived")
	}

	// Break only the client's write path; the read side stays open because
	// the server holds its end of the socket.
	c.mu.Lock()
	raw := c.conn.UnderlyingConn()
	c.mu.Unlock()
	tcp, ok := raw.(*net.TCPConn)
	require.True(t, ok)
	require.NoError(t, tcp.CloseWrite())

	require.Eventually(t, func() bool {
		return c.State() == Disconnected
	}, time.Second, 10*time.Millisecond)

	seen := server.pingCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, seen, server.pingCount())
	assert.ErrorIs(t, c.Send("hello"), ErrNotConnected)
}

func TestChannel_DisconnectDuringConnectWins(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			close(entered)
			<-release
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	c, err := NewChannel("c-1", sessionStub{token: "token-1", userID: "u-1"}, Options{
		WSBaseURL: server.wsURL(),
		Dialer:    dialer,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	<-entered
	c.Disconnect()
	close(release)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("connect never returned")
	}
	assert.Equal(t, Disconnected, c.State())
	assert.ErrorIs(t, c.Send("hello"), ErrNotConnected)
}

func TestChannel_DisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, Disconnected, c.State())
	assert.ErrorIs(t, c.Send("after disconnect"), ErrNotConnected)
}

func TestChannel_ServerCloseTearsDown(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	server.closeConn()
	require.Eventually(t, func() bool { return c.State() == Disconnected },
		2*time.Second, 10*time.Millisecond)
}

func TestChannel_ReconnectAfterDisconnect(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	c := connectedChannel(t, server, "c-1", Options{PingInterval: time.Minute})

	c.Disconnect()
	require.NoError(t, c.Connect(context.Background()))
	select {
	case <-server.accepted:
	case <-time.After(time.Second):
		t.Fatal("second connect never reached the server")
	}
	assert.Equal(t, Connected, c.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "unknown", State(99).String())
}
