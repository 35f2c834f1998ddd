package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/helpdesk/livechat/internal/history"
	"github.com/helpdesk/livechat/internal/hub"
	"github.com/helpdesk/livechat/internal/messaging"
	"github.com/helpdesk/livechat/internal/presence"
	"github.com/helpdesk/livechat/internal/protocol"
	"github.com/helpdesk/livechat/internal/ratelimit"
	"github.com/helpdesk/livechat/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "livechat-chatserver"
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "chat-1"
	}

	presenceStore, err := presence.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	limiter := ratelimit.NewLimiter(presenceStore.Client())

	log.Printf("livechat routing server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)

	// --- Hub ---
	h := hub.New()

	// Mirror presence flips into Redis and onto NATS for the CRUD layer.
	// Runs off the hub goroutine so a slow mirror never stalls routing.
	h.SetOnPresence(func(userID, userType, status string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := presenceStore.Set(ctx, userID, userType, status); err != nil {
				log.Printf("presence mirror failed user=%s: %v", userID, err)
			}
			event, _ := json.Marshal(map[string]string{
				"user_id":   userID,
				"user_type": userType,
				"status":    status,
				"server":    serverName,
			})
			if err := natsClient.PublishPresenceEvent(event); err != nil {
				log.Printf("presence publish failed user=%s: %v", userID, err)
			}
		}()
	})

	// Feed every delivered message to the archiver.
	h.SetOnHistory(func(sessionID string, msg protocol.NewMessageData) {
		event, err := json.Marshal(history.Event{
			MessageID:   msg.ID,
			SessionID:   msg.SessionID,
			SenderID:    msg.SenderID,
			SenderType:  msg.SenderType,
			Content:     msg.Content,
			MessageType: msg.MessageType,
			Timestamp:   msg.Timestamp,
		})
		if err != nil {
			log.Printf("history marshal failed session=%s: %v", sessionID, err)
			return
		}
		if err := natsClient.PublishChatEvent(sessionID, event); err != nil {
			log.Printf("history publish failed session=%s: %v", sessionID, err)
		}
	})

	// sendRateLimited reports a throttled envelope back to its sender.
	sendRateLimited := func(conn *ws.Connection) {
		resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorData{
			Message: "rate limited, slow down",
		})
		_ = conn.WriteMessage(resp)
	}

	dispatcher := ws.NewMessageDispatcher()

	// -----------------------------------------------------------------------
	// chat_message — validate, stamp, fan out to the session
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeChatMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMessageMsg)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage)
		cancel()
		if !allowed {
			sendRateLimited(conn)
			return
		}

		h.HandleChatMessage(conn.ID, chatMsg)
	})

	// -----------------------------------------------------------------------
	// typing_start / typing_stop — relay typing indicator to the session
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTypingStart, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingStartMsg)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleTyping)
		cancel()
		if !allowed {
			return // typing is ephemeral, drop silently
		}

		h.HandleTyping(conn.ID, typingMsg.ChatSessionID, true)
	})

	dispatcher.Register(protocol.TypeTypingStop, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingStopMsg)
		if !ok {
			return
		}
		h.HandleTyping(conn.ID, typingMsg.ChatSessionID, false)
	})

	// -----------------------------------------------------------------------
	// join_chat / leave_chat — session membership
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinChat, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinChatMsg)
		if !ok {
			return
		}
		h.Join(conn.ID, joinMsg.ChatSessionID)
		log.Printf("join_chat conn=%s user=%s session=%s", conn.ID, conn.UserID, joinMsg.ChatSessionID)
	})

	dispatcher.Register(protocol.TypeLeaveChat, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveChatMsg)
		if !ok {
			return
		}
		h.Leave(conn.ID, leaveMsg.ChatSessionID)
		log.Printf("leave_chat conn=%s user=%s session=%s", conn.ID, conn.UserID, leaveMsg.ChatSessionID)
	})

	server := ws.NewServer(config, dispatcher.Dispatch)

	// Admit upgraded connections into the hub; the hub sends the connected
	// acknowledgment. Connection churn is throttled per user so a reconnect
	// loop cannot hammer the server.
	server.SetOnConnect(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleConnect)
		cancel()
		if !allowed {
			log.Printf("connect rate limited user=%s", conn.UserID)
			server.RemoveConnection(conn)
			return
		}

		connID := conn.ID
		if err := h.Admit(connID, conn.UserID, conn.UserType, func(data []byte) error {
			return server.SendMessage(connID, data)
		}); err != nil {
			log.Printf("admit failed conn=%s user=%s: %v", connID, conn.UserID, err)
			server.RemoveConnection(conn)
		}
	})

	// Transport-level disconnects flow into the hub's idempotent remove.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		h.Remove(conn.ID)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		h.Stop()
		natsClient.Close()
		if err := presenceStore.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
