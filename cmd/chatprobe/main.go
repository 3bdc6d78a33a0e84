// Package main provides a stress/probe tool for the chat websocket channel:
// it opens many concurrent channels against a live backend and reports
// connection and frame counts.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tailtrail/internal/chat"
	"tailtrail/internal/models"
)

// Metrics tracks the probe results.
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	MessagesReceived     int64
	Errors               int64
}

var metrics Metrics

// probeSession carries the shared token into each channel.
type probeSession struct {
	token  string
	userID string
}

func (s *probeSession) Token() string  { return s.token }
func (s *probeSession) UserID() string { return s.userID }

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "API base URL")
	wsBase := flag.String("ws", "ws://localhost:8080", "WebSocket base URL")
	email := flag.String("email", "probe@example.com", "Test user email")
	password := flag.String("password", "password123", "Test user password")
	chatID := flag.String("chat", "", "Conversation id to probe")
	clients := flag.Int("clients", 25, "Number of concurrent channels")
	duration := flag.Duration("duration", 30*time.Second, "Probe duration")
	ping := flag.Duration("ping", 30*time.Second, "Keep-alive interval")
	flag.Parse()

	if *chatID == "" {
		log.Fatal("-chat is required")
	}

	log.Printf("starting chat probe: %d channels against %s for %v", *clients, *wsBase, *duration)

	token, userID, err := login(*apiBase, *email, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	sess := &probeSession{token: token, userID: userID}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runChannel(sess, *wsBase, *chatID, *ping, i, stop, &wg)
		time.Sleep(50 * time.Millisecond) // stagger connections
	}

	select {
	case <-time.After(*duration):
		log.Println("probe duration reached")
	case <-interrupt:
		log.Println("interrupted")
	}

	close(stop)
	wg.Wait()
	printMetrics()
}

func login(apiBase, email, password string) (token, userID string, err error) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(apiBase+"/api/v1/auth/login", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}

	me, err := fetchProfile(apiBase, result.Token)
	if err != nil {
		return "", "", err
	}
	return result.Token, me.ID, nil
}

func fetchProfile(apiBase, token string) (*models.User, error) {
	req, _ := http.NewRequest(http.MethodGet, apiBase+"/api/v1/users/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed with status %d", resp.StatusCode)
	}
	var user models.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func runChannel(sess *probeSession, wsBase, chatID string, ping time.Duration, id int, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	channel, err := chat.NewChannel(chatID, sess, chat.Options{
		WSBaseURL:    wsBase,
		PingInterval: ping,
	})
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		return
	}
	if err := channel.Connect(context.Background()); err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)
	defer channel.Disconnect()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-channel.Messages():
			atomic.AddInt64(&metrics.MessagesReceived, 1)
		case <-ticker.C:
			if err := channel.Send(fmt.Sprintf("probe message from channel %d", id)); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
			} else {
				atomic.AddInt64(&metrics.MessagesSent, 1)
			}
		}
	}
}

func printMetrics() {
	log.Println("probe results")
	log.Printf("connections attempted:  %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("connections successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("connections failed:     %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("messages sent:          %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("messages received:      %d", atomic.LoadInt64(&metrics.MessagesReceived))
	log.Printf("total errors:           %d", atomic.LoadInt64(&metrics.Errors))
}
