package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeList struct {
	key    string
	values []interface{}
	err    error
}

func (f *fakeList) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.key = key
	f.values = append(f.values, values...)
	return redis.NewIntResult(int64(len(f.values)), f.err)
}

func TestRedisNotifierPushesJSON(t *testing.T) {
	list := &fakeList{}
	n, err := newRedisNotifier(list, "hrcore:password-reset")
	require.NoError(t, err)

	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err = n.SendPasswordReset(context.Background(), PasswordReset{
		UserID: "u-1", Email: "alice@x.com", Token: "tok", ExpiresAt: exp,
	})
	require.NoError(t, err)
	assert.Equal(t, "hrcore:password-reset", list.key)
	require.Len(t, list.values, 1)

	var msg PasswordReset
	require.NoError(t, json.Unmarshal(list.values[0].([]byte), &msg))
	assert.Equal(t, "alice@x.com", msg.Email)
	assert.Equal(t, "tok", msg.Token)
	assert.True(t, msg.ExpiresAt.Equal(exp))
}

func TestRedisNotifierWrapsErrors(t *testing.T) {
	list := &fakeList{err: errors.New("connection refused")}
	n, err := newRedisNotifier(list, "q")
	require.NoError(t, err)
	err = n.SendPasswordReset(context.Background(), PasswordReset{UserID: "u-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRedisNotifierRequiresQueue(t *testing.T) {
	_, err := newRedisNotifier(&fakeList{}, "  ")
	assert.Error(t, err)
	_, err = NewRedisNotifier(nil, "q")
	assert.Error(t, err)
}

func TestLogNotifierOmitsTokenByDefault(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := LogNotifier{Logger: zap.New(core)}
	require.NoError(t, n.SendPasswordReset(context.Background(), PasswordReset{UserID: "u-1", Token: "secret"}))

	entries := logs.All()
	require.Len(t, entries, 1)
	_, hasToken := entries[0].ContextMap()["token"]
	assert.False(t, hasToken)

	n.IncludeToken = true
	require.NoError(t, n.SendPasswordReset(context.Background(), PasswordReset{UserID: "u-1", Token: "secret"}))
	assert.Equal(t, "secret", logs.All()[1].ContextMap()["token"])
}
