// Package main is a command-line client for the TailTrail backend: it logs
// in, syncs the feed, and optionally watches a conversation until
// interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tailtrail/internal/api"
	"tailtrail/internal/chat"
	"tailtrail/internal/config"
	"tailtrail/internal/connectivity"
	"tailtrail/internal/feed"
	"tailtrail/internal/observability"
	"tailtrail/internal/session"
	"tailtrail/internal/store"
)

func main() {
	email := flag.String("email", "", "Account email")
	password := flag.String("password", "", "Account password")
	chatID := flag.String("chat", "", "Conversation id to watch (optional)")
	pages := flag.Int("pages", 1, "Feed pages to load")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "tailtrail-client",
		ServiceVersion: "dev",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	local, err := store.Open(cfg.StatePath)
	if err != nil {
		log.Fatalf("local state: %v", err)
	}
	defer func() { _ = local.Close() }()

	monitor := connectivity.NewNetMonitor(5 * time.Second)
	defer monitor.Close()

	sess := session.NewStore(local, nil)
	client, err := api.NewClient(api.Options{
		BaseURL:        cfg.APIBaseURL,
		Tokens:         sess,
		Online:         monitor.Online,
		ExpiryMarker:   cfg.ExpiryMarker,
		FilesField:     cfg.FilesField,
		RequestTimeout: cfg.RequestTimeout,
		UploadTimeout:  cfg.UploadTimeout,
		OnAuthExpired:  sess.ExpireSession,
	})
	if err != nil {
		log.Fatalf("api client: %v", err)
	}
	sess.AttachAPI(client)

	ctx := context.Background()

	if !sess.LoggedIn() {
		if *email == "" || *password == "" {
			log.Fatal("no stored session; -email and -password are required")
		}
		if err := sess.Login(ctx, *email, *password); err != nil {
			log.Fatalf("login: %v", err)
		}
	}
	if user := sess.User(); user != nil {
		log.Printf("logged in as %s", user.Email)
	}

	engine := feed.NewEngine(client, sess, feed.Options{
		PageSize:  cfg.PageSize,
		Snapshots: local,
	})
	if !monitor.Online() {
		log.Println("offline; showing cached feed")
		if err := engine.LoadCached(); err != nil {
			log.Printf("feed cache: %v", err)
		}
	} else {
		if err := engine.Refresh(ctx); err != nil {
			log.Fatalf("feed refresh: %v", err)
		}
		for i := 1; i < *pages && !engine.Cursor().Exhausted; i++ {
			if err := engine.LoadMore(ctx); err != nil {
				log.Printf("load more: %v", err)
				break
			}
		}
	}

	for _, p := range engine.Posts() {
		liked := " "
		if p.IsLiked {
			liked = "*"
		}
		log.Printf("[%s]%s %s (%s) %s", p.Status, liked, p.PetName, p.Species, p.LocationName)
	}

	if *chatID == "" {
		return
	}

	svc := chat.NewService(client)
	history, err := svc.History(ctx, *chatID)
	if err != nil {
		log.Fatalf("chat history: %v", err)
	}
	for _, m := range history {
		log.Printf("%s %s: %s", m.CreatedAt.Format(time.Kitchen), m.Sender.Email, m.Content)
	}

	channel, err := chat.NewChannel(*chatID, sess, chat.Options{
		WSBaseURL:        cfg.WSBaseURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
	})
	if err != nil {
		log.Fatalf("chat channel: %v", err)
	}
	if err := channel.Connect(ctx); err != nil {
		log.Fatalf("chat connect: %v", err)
	}
	defer channel.Disconnect()
	log.Println("watching conversation; ctrl-c to quit")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case msg := <-channel.Messages():
			log.Printf("%s: %s", msg.Sender.Email, msg.Content)
		case <-interrupt:
			return
		}
	}
}
