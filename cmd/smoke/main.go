package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	log.SetFlags(0)
	httpBase := strings.TrimRight(envOr("GATEHOUSE_SMOKE_HTTP", "http://localhost:8080"), "/")
	grpcAddr := envOr("GATEHOUSE_SMOKE_GRPC", "localhost:9090")
	login := envOr("GATEHOUSE_SMOKE_LOGIN", os.Getenv("GATEHOUSE_BOOTSTRAP_LOGIN"))
	password := envOr("GATEHOUSE_SMOKE_PASSWORD", os.Getenv("GATEHOUSE_BOOTSTRAP_PASSWORD"))
	if login == "" || password == "" {
		log.Fatal("missing credentials: set GATEHOUSE_SMOKE_LOGIN and GATEHOUSE_SMOKE_PASSWORD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := checkHealth(ctx, grpcAddr); err != nil {
		log.Fatalf("grpc health at %s: %v", grpcAddr, err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	var session struct {
		AuthID string `json:"auth_id"`
		UserID int64  `json:"user_id"`
	}
	body, _ := json.Marshal(map[string]string{"login": login, "password": password})
	if err := call(ctx, client, http.MethodPost, httpBase+"/v1/sessions", "", body, http.StatusCreated, &session); err != nil {
		log.Fatalf("login: %v", err)
	}

	var current struct {
		UserID int64 `json:"user_id"`
	}
	if err := call(ctx, client, http.MethodGet, httpBase+"/v1/sessions/current", session.AuthID, nil, http.StatusOK, &current); err != nil {
		log.Fatalf("current session: %v", err)
	}
	if current.UserID != session.UserID {
		log.Fatalf("session user mismatch: login=%d current=%d", session.UserID, current.UserID)
	}

	if err := call(ctx, client, http.MethodDelete, httpBase+"/v1/sessions", session.AuthID, nil, http.StatusNoContent, nil); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if err := call(ctx, client, http.MethodGet, httpBase+"/v1/sessions/current", session.AuthID, nil, http.StatusUnauthorized, nil); err != nil {
		log.Fatalf("session survived logout: %v", err)
	}

	fmt.Printf("gatehouse smoke test passed: user=%d\n", session.UserID)
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "gatehouse"})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}

func call(ctx context.Context, client *http.Client, method, url, token string, body []byte, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d, want %d: %s", method, url, resp.StatusCode, want, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
