// Command smoke exercises a running hrcore-api end to end: register, refresh, me,
// logout, and a guarded gRPC health check.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hrcore.org/internal/auth"
	"hrcore.org/internal/grpcapi"
	"hrcore.org/internal/obs"
)

type session struct {
	User         auth.User `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
}

type smoke struct {
	base   string
	client *http.Client
}

func main() {
	logger := obs.Logger()

	base := strings.TrimRight(getenv("HRCORE_HTTP_URL", "http://localhost:8080"), "/")
	grpcAddr := getenv("HRCORE_GRPC_ADDR", "localhost:9090")
	s := smoke{base: base, client: &http.Client{Timeout: 5 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	email := fmt.Sprintf("smoke-%s@example.com", uuid.NewString()[:8])
	password := "smoke-" + uuid.NewString()

	var reg session
	if code := s.call(ctx, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": email, "password": password}, &reg); code != http.StatusCreated {
		logger.Fatal("register", zap.Int("status", code))
	}
	if reg.User.Role != auth.RoleEmployee || reg.AccessToken == "" || reg.RefreshToken == "" {
		logger.Fatal("register returned an unexpected session", zap.Any("user", reg.User))
	}

	var refreshed auth.AccessToken
	if code := s.call(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": reg.RefreshToken}, &refreshed); code != http.StatusOK {
		logger.Fatal("refresh", zap.Int("status", code))
	}

	var me auth.User
	if code := s.call(ctx, http.MethodGet, "/v1/auth/me", refreshed.Token, nil, &me); code != http.StatusOK || me.ID != reg.User.ID {
		logger.Fatal("me", zap.Int("status", code), zap.String("user_id", me.ID))
	}

	if code := s.call(ctx, http.MethodGet, "/v1/audit", refreshed.Token, nil, nil); code != http.StatusForbidden {
		logger.Fatal("employee reached the audit log", zap.Int("status", code))
	}

	gc, err := grpcapi.Dial(ctx, grpcAddr)
	if err != nil {
		logger.Fatal("dial grpc", zap.String("addr", grpcAddr), zap.Error(err))
	}
	defer gc.Close()
	serving, err := gc.Serving(auth.ContextWithToken(ctx, refreshed.Token))
	if err != nil || !serving {
		logger.Fatal("grpc health", zap.Bool("serving", serving), zap.Error(err))
	}

	if code := s.call(ctx, http.MethodPost, "/v1/auth/logout", refreshed.Token, nil, nil); code != http.StatusNoContent {
		logger.Fatal("logout", zap.Int("status", code))
	}
	if code := s.call(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": reg.RefreshToken}, nil); code != http.StatusUnauthorized {
		logger.Fatal("refresh token survived logout", zap.Int("status", code))
	}

	fmt.Printf("hrcore smoke test passed: user=%s\n", reg.User.ID)
}

func (s smoke) call(ctx context.Context, method, path, bearer string, body, out any) int {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			obs.Logger().Fatal("encode request", zap.String("path", path), zap.Error(err))
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, &payload)
	if err != nil {
		obs.Logger().Fatal("build request", zap.String("path", path), zap.Error(err))
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		obs.Logger().Fatal("request", zap.String("path", path), zap.Error(err))
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			obs.Logger().Fatal("decode response", zap.String("path", path), zap.Error(err))
		}
	}
	return resp.StatusCode
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
