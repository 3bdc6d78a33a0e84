// Package test hosts integration tests that run the client core against an
// in-process fake of the TailTrail backend, speaking the same REST and
// websocket contract over real sockets.
package test

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tailtrail/internal/models"
)

const expiryMarker = "Token expired!"

type backendUser struct {
	ID           string
	Email        string
	Phone        string
	Name         string
	PasswordHash []byte
}

// backend is an in-memory stand-in for the real TailTrail API server.
type backend struct {
	app     *fiber.App
	BaseURL string
	WSURL   string
	secret  []byte

	mu        sync.Mutex
	users     map[string]*backendUser // keyed by email
	usersByID map[string]*backendUser
	posts     []models.Post
	likes     map[string]map[string]bool // post id -> liker set
	blocks    map[string]map[string]bool // user id -> blocked set
	messages  map[string][]models.Message
	conns     map[*websocket.Conn]string // conn -> user id
	expired   map[string]bool            // tokens forced to the expired state
	wsWrite   sync.Mutex                 // serializes broadcast writes

	pings     int64
	likeCalls int64
}

func startBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{
		secret:    []byte("integration-secret"),
		users:     make(map[string]*backendUser),
		usersByID: make(map[string]*backendUser),
		likes:     make(map[string]map[string]bool),
		blocks:    make(map[string]map[string]bool),
		messages:  make(map[string][]models.Message),
		conns:     make(map[*websocket.Conn]string),
		expired:   make(map[string]bool),
	}
	b.app = fiber.New(fiber.Config{DisableStartupMessage: true})
	b.routes()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b.BaseURL = "http://" + ln.Addr().String()
	b.WSURL = "ws://" + ln.Addr().String()

	go func() { _ = b.app.Listener(ln) }()
	t.Cleanup(func() { _ = b.app.Shutdown() })

	waitReady(t, b.BaseURL+"/healthz")
	return b
}

func waitReady(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("backend never became ready")
}

func (b *backend) routes() {
	b.app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	v1 := b.app.Group("/api/v1")
	v1.Post("/auth/signup", b.handleSignup)
	v1.Post("/auth/login", b.handleLogin)

	v1.Get("/posts/", b.optionalAuth, b.handleListPosts)
	v1.Post("/posts/", b.requireAuth, b.handleCreatePost)
	v1.Post("/posts/:id/like", b.requireAuth, b.handleToggleLike)
	v1.Post("/posts/:id/complaint", b.requireAuth, b.handleComplaint)

	v1.Get("/users/profile", b.requireAuth, b.handleProfile)
	v1.Patch("/users/profile", b.requireAuth, b.handleUpdateProfile)
	v1.Delete("/users/profile", b.requireAuth, b.handleDeleteAccount)
	v1.Post("/users/block/", b.requireAuth, b.handleBlock)
	v1.Get("/users/block/", b.requireAuth, b.handleBlockList)
	v1.Delete("/users/block/:id", b.requireAuth, b.handleUnblock)

	v1.Get("/messages/chats/:id/messages", b.requireAuth, b.handleChatHistory)
	v1.Get("/chat/chats", b.requireAuth, b.handleListChats)
	v1.Delete("/chat/chats/:id", b.requireAuth, b.handleDeleteChat)

	ws := v1.Group("/websocket")
	ws.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	ws.Get("/ws/:userId", func(c *fiber.Ctx) error {
		userID, err := b.authenticate(c.Get("Authorization"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).SendString(err.Error())
		}
		if userID != c.Params("userId") {
			return c.SendStatus(fiber.StatusForbidden)
		}
		c.Locals("userID", userID)
		return c.Next()
	}, websocket.New(b.handleWebSocket))
}

// authentication

func (b *backend) token(userID string) string {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	return signed
}

func (b *backend) authenticate(header string) (string, error) {
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return "", fmt.Errorf(`{"detail":"missing token"}`)
	}
	b.mu.Lock()
	isExpired := b.expired[raw]
	b.mu.Unlock()
	if isExpired {
		return "", fmt.Errorf(`{"detail":"%s"}`, expiryMarker)
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return b.secret, nil })
	if err != nil {
		return "", fmt.Errorf(`{"detail":"invalid token"}`)
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", fmt.Errorf(`{"detail":"invalid token"}`)
	}
	return userID, nil
}

func (b *backend) requireAuth(c *fiber.Ctx) error {
	userID, err := b.authenticate(c.Get("Authorization"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).SendString(err.Error())
	}
	c.Locals("userID", userID)
	return c.Next()
}

func (b *backend) optionalAuth(c *fiber.Ctx) error {
	if userID, err := b.authenticate(c.Get("Authorization")); err == nil {
		c.Locals("userID", userID)
	}
	return c.Next()
}

func currentUser(c *fiber.Ctx) string {
	if id, ok := c.Locals("userID").(string); ok {
		return id
	}
	return ""
}

// expireToken makes the backend answer every further use of token with the
// 401 expiry marker.
func (b *backend) expireToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expired[token] = true
}

// auth handlers

func (b *backend) handleSignup(c *fiber.Ctx) error {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Phone    string `json:"phone"`
	}
	if err := c.BodyParser(&in); err != nil || in.Email == "" || in.Password == "" {
		return c.Status(fiber.StatusUnprocessableEntity).SendString(`{"detail":"invalid signup"}`)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.MinCost)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[in.Email]; exists {
		return c.Status(fiber.StatusConflict).SendString(`{"detail":"email taken"}`)
	}
	user := &backendUser{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
	}
	b.users[in.Email] = user
	b.usersByID[user.ID] = user
	return c.SendStatus(fiber.StatusCreated)
}

func (b *backend) handleLogin(c *fiber.Ctx) error {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).SendString(`{"detail":"invalid login"}`)
	}

	b.mu.Lock()
	user := b.users[in.Email]
	b.mu.Unlock()
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(in.Password)) != nil {
		return c.Status(fiber.StatusUnauthorized).SendString(`{"detail":"wrong credentials"}`)
	}
	return c.JSON(fiber.Map{"token": b.token(user.ID)})
}

// user handlers

func (b *backend) userJSON(u *backendUser) fiber.Map {
	return fiber.Map{
		"id":         u.ID,
		"email":      u.Email,
		"phone":      u.Phone,
		"name":       u.Name,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
}

func (b *backend) handleProfile(c *fiber.Ctx) error {
	b.mu.Lock()
	user := b.usersByID[currentUser(c)]
	b.mu.Unlock()
	if user == nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.JSON(b.userJSON(user))
}

func (b *backend) handleUpdateProfile(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).SendString(`{"detail":"expected multipart"}`)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	user := b.usersByID[currentUser(c)]
	if user == nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	if v, ok := form.Value["name"]; ok && len(v) > 0 {
		user.Name = v[0]
	}
	if v, ok := form.Value["phone"]; ok && len(v) > 0 {
		user.Phone = v[0]
	}
	return c.JSON(b.userJSON(user))
}

func (b *backend) handleDeleteAccount(c *fiber.Ctx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	user := b.usersByID[currentUser(c)]
	if user == nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	delete(b.users, user.Email)
	delete(b.usersByID, user.ID)
	return c.SendStatus(fiber.StatusOK)
}

func (b *backend) handleBlock(c *fiber.Ctx) error {
	var in struct {
		BlockedID string `json:"blocked_id"`
	}
	if err := c.BodyParser(&in); err != nil || in.BlockedID == "" {
		return c.SendStatus(fiber.StatusUnprocessableEntity)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	me := currentUser(c)
	if b.blocks[me] == nil {
		b.blocks[me] = make(map[string]bool)
	}
	b.blocks[me][in.BlockedID] = true
	return c.SendStatus(fiber.StatusOK)
}

func (b *backend) handleBlockList(c *fiber.Ctx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []fiber.Map{}
	for id := range b.blocks[currentUser(c)] {
		if u := b.usersByID[id]; u != nil {
			out = append(out, b.userJSON(u))
		} else {
			out = append(out, fiber.Map{"id": id})
		}
	}
	return c.JSON(out)
}

func (b *backend) handleUnblock(c *fiber.Ctx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocks[currentUser(c)], c.Params("id"))
	return c.SendStatus(fiber.StatusOK)
}

// post handlers

// seedPosts fills the feed with generated posts, newest first.
func (b *backend) seedPosts(count int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	species := []string{"dog", "cat", "bird", "other"}
	for i := 0; i < count; i++ {
		b.posts = append(b.posts, models.Post{
			ID:           uuid.NewString(),
			PetName:      gofakeit.PetName(),
			Species:      species[i%len(species)],
			Breed:        gofakeit.Dog(),
			Color:        gofakeit.Color(),
			Description:  gofakeit.Sentence(8),
			LocationName: gofakeit.City(),
			ContactPhone: gofakeit.Phone(),
			Status:       models.StatusLost,
			CreatedAt:    time.Now().UTC().Add(-time.Duration(i) * time.Hour),
		})
	}
}

func (b *backend) handleListPosts(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	size, _ := strconv.Atoi(c.Query("size", "10"))
	if page < 1 || size < 1 {
		return c.Status(fiber.StatusUnprocessableEntity).SendString(`{"detail":"bad pagination"}`)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	me := currentUser(c)

	start := (page - 1) * size
	end := start + size
	total := len(b.posts)
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	posts := make([]models.Post, 0, end-start)
	for _, p := range b.posts[start:end] {
		p.LikesCount = len(b.likes[p.ID])
		p.IsLiked = me != "" && b.likes[p.ID][me]
		posts = append(posts, p)
	}

	totalPages := (total + size - 1) / size
	return c.JSON(fiber.Map{
		"posts":       posts,
		"total":       total,
		"page":        page,
		"per_page":    size,
		"total_pages": totalPages,
		"has_next":    end < total,
		"has_prev":    page > 1,
	})
}

func (b *backend) handleCreatePost(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).SendString(`{"detail":"expected multipart"}`)
	}
	field := func(name string) string {
		if v, ok := form.Value[name]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if field("pet_name") == "" {
		return c.Status(fiber.StatusUnprocessableEntity).SendString(`{"detail":"pet_name required"}`)
	}

	var images []string
	for range form.File["files"] {
		images = append(images, "/static/"+uuid.NewString()+".jpg")
	}

	post := models.Post{
		ID:           uuid.NewString(),
		PetName:      field("pet_name"),
		Species:      field("pet_species"),
		Breed:        field("pet_breed"),
		Color:        field("color"),
		Description:  field("description"),
		LocationName: field("location_name"),
		ContactPhone: field("contact_phone"),
		Status:       field("status"),
		Images:       images,
		UserID:       currentUser(c),
		CreatedAt:    time.Now().UTC(),
	}

	b.mu.Lock()
	b.posts = append([]models.Post{post}, b.posts...)
	b.mu.Unlock()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"post": post})
}

func (b *backend) handleToggleLike(c *fiber.Ctx) error {
	atomic.AddInt64(&b.likeCalls, 1)
	postID := c.Params("id")
	me := currentUser(c)

	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for _, p := range b.posts {
		if p.ID == postID {
			found = true
			break
		}
	}
	if !found {
		return c.SendStatus(fiber.StatusNotFound)
	}
	if b.likes[postID] == nil {
		b.likes[postID] = make(map[string]bool)
	}
	if b.likes[postID][me] {
		delete(b.likes[postID], me)
	} else {
		b.likes[postID][me] = true
	}
	return c.SendStatus(fiber.StatusOK)
}

func (b *backend) handleComplaint(c *fiber.Ctx) error {
	var in struct {
		Complaint string `json:"complaint"`
	}
	if err := c.BodyParser(&in); err != nil || in.Complaint == "" {
		return c.SendStatus(fiber.StatusUnprocessableEntity)
	}
	return c.SendStatus(fiber.StatusOK)
}

// chat handlers

func (b *backend) seedMessages(chatID string, msgs ...models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[chatID] = append(b.messages[chatID], msgs...)
}

func (b *backend) handleListChats(c *fiber.Ctx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	chats := make([]models.Chat, 0, len(b.messages))
	for chatID, msgs := range b.messages {
		chat := models.Chat{ID: chatID, UnreadCount: len(msgs)}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			chat.LastMessage = last.Content
			at := last.CreatedAt
			chat.LastMessageTime = &at
		}
		chats = append(chats, chat)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return c.JSON(chats)
}

func (b *backend) handleChatHistory(c *fiber.Ctx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs, ok := b.messages[c.Params("id")]
	if !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.JSON(msgs)
}

func (b *backend) handleDeleteChat(c *fiber.Ctx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.messages[c.Params("id")]; !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}
	delete(b.messages, c.Params("id"))
	return c.SendStatus(fiber.StatusOK)
}

// websocket

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (b *backend) handleWebSocket(conn *websocket.Conn) {
	userID := conn.Locals("userID").(string)

	b.mu.Lock()
	b.conns[conn] = userID
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "ping":
			atomic.AddInt64(&b.pings, 1)
		case "send_message":
			var in struct {
				ChatID  string `json:"chat_id"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(f.Data, &in); err != nil {
				continue
			}
			b.mu.Lock()
			sender := b.usersByID[userID]
			msg := models.Message{
				ID:        uuid.NewString(),
				ChatID:    in.ChatID,
				Content:   in.Content,
				CreatedAt: time.Now().UTC(),
			}
			if sender != nil {
				msg.Sender = models.Sender{ID: sender.ID, Email: sender.Email}
			}
			b.messages[in.ChatID] = append(b.messages[in.ChatID], msg)
			targets := make([]*websocket.Conn, 0, len(b.conns))
			for target := range b.conns {
				targets = append(targets, target)
			}
			b.mu.Unlock()

			payload, _ := json.Marshal(msg)
			b.wsWrite.Lock()
			for _, target := range targets {
				_ = target.WriteJSON(wsFrame{Type: "new_message", Data: payload})
			}
			b.wsWrite.Unlock()
		}
	}
}

func (b *backend) pingCount() int64 {
	return atomic.LoadInt64(&b.pings)
}

func (b *backend) likeCallCount() int64 {
	return atomic.LoadInt64(&b.likeCalls)
}
