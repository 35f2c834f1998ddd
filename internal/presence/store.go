// Package presence mirrors user online/offline state into Redis so the
// surrounding CRUD services (agent dashboards, routing of new chats) can
// query availability without talking to the routing process. The routing
// process itself derives presence from its in-memory connection sets; Redis
// is a read-only view for everyone else.
//
//	Key:   presence:<user_id>
//	Value: hash {user_id, user_type, status, server, updated_at}
//	TTL:   PresenceTTL, refreshed on every transition
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for presence hashes.
	KeyPrefix = "presence:"

	// PresenceTTL bounds how stale a presence record can get if the
	// routing process dies without cleaning up.
	PresenceTTL = 2 * time.Hour

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Record is a user's mirrored presence state.
type Record struct {
	UserID    string `redis:"user_id"`
	UserType  string `redis:"user_type"`
	Status    string `redis:"status"`
	Server    string `redis:"server"`     // which routing instance owns the connections
	UpdatedAt int64  `redis:"updated_at"` // unix timestamp
}

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this routing instance
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Set records a user's presence transition with a refreshed TTL.
func (s *Store) Set(ctx context.Context, userID, userType, status string) error {
	key := KeyPrefix + userID

	record := map[string]interface{}{
		"user_id":    userID,
		"user_type":  userType,
		"status":     status,
		"server":     s.serverName,
		"updated_at": time.Now().Unix(),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a user's mirrored presence. Returns nil if no record exists
// (which readers should treat as offline).
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	key := KeyPrefix + userID
	var record Record
	err := s.client.HGetAll(ctx, key).Scan(&record)
	if err != nil {
		return nil, err
	}
	if record.UserID == "" {
		return nil, nil // not found
	}
	return &record, nil
}

// IsOnline reports whether the mirrored state for a user says online.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	record, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return record != nil && record.Status == StatusOnline, nil
}

// Delete removes a user's presence record immediately.
func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, KeyPrefix+userID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (the rate limiter shares the connection).
func (s *Store) Client() *redis.Client {
	return s.client
}
