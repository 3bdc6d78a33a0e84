// Package chat maintains the persistent bidirectional channel for one open
// conversation, plus the REST operations on conversations.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tailtrail/internal/models"
	"tailtrail/internal/observability"
)

// State is the channel connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	}
	return "unknown"
}

// Frame types on the wire.
const (
	frameTypePing        = "ping"
	frameTypeSendMessage = "send_message"
	frameTypeNewMessage  = "new_message"
)

// writeWait is the time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

// frame is the tagged wire envelope.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type sendMessageData struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// Session supplies the identity the channel connects with.
type Session interface {
	Token() string
	UserID() string
}

// Options configures a Channel.
type Options struct {
	WSBaseURL        string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	Dialer           *websocket.Dialer // optional override for tests
	Logger           *observability.ChannelLogger
}

// Channel is the live connection for one conversation. One instance exists
// per open chat screen; Disconnect must be called on screen teardown so the
// receive loop and ping timer are both released.
type Channel struct {
	chatID       string
	session      Session
	wsBase       string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	log          *observability.ChannelLogger

	mu     sync.Mutex
	state  State
	epoch  uint64
	conn   *websocket.Conn
	cancel context.CancelFunc

	writeMu  sync.Mutex
	messages chan models.Message
}

// ErrNotConnected is returned when an operation needs a live connection.
var ErrNotConnected = errors.New("chat: channel is not connected")

// NewChannel creates a channel for the given conversation. It starts
// disconnected; call Connect.
func NewChannel(chatID string, session Session, opts Options) (*Channel, error) {
	if chatID == "" {
		return nil, errors.New("chat: conversation id is required")
	}
	if opts.WSBaseURL == "" {
		return nil, errors.New("chat: websocket base URL is required")
	}
	if _, err := url.Parse(opts.WSBaseURL); err != nil {
		return nil, errors.New("chat: invalid websocket base URL")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	log := opts.Logger
	if log == nil {
		log = observability.NewChannelLogger(chatID)
	}
	return &Channel{
		chatID:       chatID,
		session:      session,
		wsBase:       strings.TrimSuffix(opts.WSBaseURL, "/"),
		pingInterval: opts.PingInterval,
		dialer:       dialer,
		log:          log,
		messages:     make(chan models.Message, 64),
	}, nil
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages is the stream of inbound messages for this conversation. The
// channel is never closed; select against Done to notice teardown.
func (c *Channel) Messages() <-chan models.Message {
	return c.messages
}

// Connect opens the socket, arms the receive loop, and schedules the first
// keep-alive ping. It requires a present token and current-user identity.
// Calling Connect on an already connecting or connected channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	token := c.session.Token()
	userID := c.session.UserID()
	if token == "" || userID == "" {
		return models.NewUnauthorizedError("no active session")
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.dialer.DialContext(ctx, c.wsBase+"/api/v1/websocket/ws/"+userID, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch && c.state == Connecting {
			c.state = Disconnected
		}
		c.mu.Unlock()
		c.log.LogError("dial", err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.epoch != epoch || c.state != Connecting {
		// A Disconnect raced the dial; honor it and drop the fresh socket.
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.cancel = cancel
	c.state = Connected
	c.mu.Unlock()

	observability.ChannelsActive.Inc()
	c.log.LogConnect(userID)

	go c.receiveLoop(loopCtx, conn)
	go c.pingLoop(loopCtx)
	return nil
}

// receiveLoop keeps a single outstanding receive armed; the next receive is
// armed only after the current frame is fully handled, so inbound frames for
// this connection are processed in order. The loop stops re-arming on the
// first failure and tears the channel down.
func (c *Channel) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.LogError("receive", err)
				c.teardown("receive failure", false)
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Channel) handleFrame(ctx context.Context, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.LogError("decode frame", err)
		return
	}
	observability.RecordFrame("in", f.Type)
	c.log.LogFrame(f.Type)

	switch f.Type {
	case frameTypeNewMessage:
		var msg models.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			c.log.LogError("decode message", err)
			return
		}
		// Frames for other conversations are dropped by identity check.
		if msg.ChatID != c.chatID {
			return
		}
		select {
		case c.messages <- msg:
		case <-ctx.Done():
		}
	default:
		// Unrecognized frame types are ignored.
	}
}

// pingLoop sends a typed ping frame at a fixed interval while connected. A
// failed send tears the channel down and stops the loop; there is no retry.
func (c *Channel) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeFrame(outbound{Type: frameTypePing, Data: struct{}{}}); err != nil {
				if ctx.Err() == nil {
					c.log.LogError("ping", err)
					c.teardown("ping failure", false)
				}
				return
			}
		}
	}
}

// Send transmits a message to the conversation. Empty (after trimming) text
// is rejected. Transmission is fire-and-forget: a write failure is logged,
// not returned, and the message is not locally echoed; it appears only once
// the server broadcast echoes it back.
func (c *Channel) Send(text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return errors.New("chat: message text is empty")
	}
	c.mu.Lock()
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	err := c.writeFrame(outbound{
		Type: frameTypeSendMessage,
		Data: sendMessageData{ChatID: c.chatID, Content: content},
	})
	if err != nil {
		c.log.LogError("send", err)
	}
	return nil
}

func (c *Channel) writeFrame(f outbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(f); err != nil {
		return err
	}
	observability.RecordFrame("out", f.Type)
	return nil
}

// Disconnect closes the socket with a normal-closure code and releases the
// receive loop and ping timer together. Idempotent.
func (c *Channel) Disconnect() {
	c.teardown("client disconnect", true)
}

func (c *Channel) teardown(reason string, sendClose bool) {
	c.mu.Lock()
	if c.state == Disconnected || c.state == Closing {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == Connected
	c.state = Closing
	c.epoch++ // abandon any dial still in flight
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if conn != nil {
		if sendClose {
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
		}
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}

	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()

	if wasConnected {
		observability.ChannelsActive.Dec()
	}
	c.log.LogDisconnect(reason)
}
