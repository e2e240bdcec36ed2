// Package notify delivers password reset tokens out of band. The identity service never
// returns a reset token to the requester; it hands it to a Notifier instead.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PasswordReset is the message handed to the delivery channel.
type PasswordReset struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Notifier delivers reset tokens to their owner.
type Notifier interface {
	SendPasswordReset(ctx context.Context, msg PasswordReset) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg PasswordReset) error

func (f NotifierFunc) SendPasswordReset(ctx context.Context, msg PasswordReset) error {
	return f(ctx, msg)
}

// LogNotifier writes reset notifications to the log. The token itself is only logged
// when IncludeToken is set, which is meant for local development.
type LogNotifier struct {
	Logger       *zap.Logger
	IncludeToken bool
}

func (n LogNotifier) SendPasswordReset(_ context.Context, msg PasswordReset) error {
	if n.Logger == nil {
		return errors.New("notify: logger is required")
	}
	fields := []zap.Field{
		zap.String("user_id", msg.UserID),
		zap.String("email", msg.Email),
		zap.Time("expires_at", msg.ExpiresAt),
	}
	if n.IncludeToken {
		fields = append(fields, zap.String("token", msg.Token))
	}
	n.Logger.Info("password reset issued", fields...)
	return nil
}

// listPusher is the subset of *redis.Client used by RedisNotifier.
type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisNotifier appends reset messages as JSON to a Redis list consumed by the mailer.
type RedisNotifier struct {
	client listPusher
	queue  string
}

// NewRedisNotifier pushes onto queue using client.
func NewRedisNotifier(client *redis.Client, queue string) (*RedisNotifier, error) {
	if client == nil {
		return nil, errors.New("notify: redis client is required")
	}
	return newRedisNotifier(client, queue)
}

func newRedisNotifier(client listPusher, queue string) (*RedisNotifier, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, errors.New("notify: queue name is required")
	}
	return &RedisNotifier{client: client, queue: queue}, nil
}

func (n *RedisNotifier) SendPasswordReset(ctx context.Context, msg PasswordReset) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encode reset message: %w", err)
	}
	if err := n.client.RPush(ctx, n.queue, payload).Err(); err != nil {
		return fmt.Errorf("notify: push to %s: %w", n.queue, err)
	}
	return nil
}
