package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/faceswap-gateway/internal/config"
	"github.com/example/faceswap-gateway/internal/generation"
	"github.com/example/faceswap-gateway/internal/usecase"
)

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ string, _ generation.Request) (generation.Result, error) {
	select {
	case <-g.started:
	default:
		close(g.started)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return generation.Result{}, ctx.Err()
	}
	return generation.Succeeded(generation.Image{MIMEType: "image/png", Data: "aW1n"}, ""), nil
}

func TestServerGracefulShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-gen.release:
		default:
			close(gen.release)
		}
	}()

	cfg := &config.Config{
		APIKey:           "test-key",
		BatchConcurrency: 1,
		MaxBatchSize:     2,
		MaxUploadBytes:   1 << 20,
	}
	uc := usecase.NewGenerationUseCase(cfg, gen, nil, nil, logger)

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: newRouter(cfg, uc, logger)}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	body, contentType := buildGenerateBody(t)
	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Post("http://"+addr+"/api/generate", contentType, body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-gen.started:
		t.Log("generation started")
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(gen.release)
	t.Log("released generation")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		payload, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(payload))
		}
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("invalid json body: %v", err)
		}
		if decoded["success"] != true {
			t.Fatalf("expected success, got %s", string(payload))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestHealthThroughRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	cfg := &config.Config{BatchConcurrency: 1, MaxBatchSize: 1, MaxUploadBytes: 1 << 20}
	uc := usecase.NewGenerationUseCase(cfg, &blockingGenerator{}, nil, nil, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: newRouter(cfg, uc, logger)}
	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, time.Second, logger, listener, signalCh)
	}()
	addr := listener.Addr().String()
	waitForServer(t, addr)

	resp, err := http.Get("http://" + addr + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if resp.StatusCode != http.StatusOK || decoded["status"] != "ok" || decoded["hasApiKey"] != false {
		t.Fatalf("unexpected health response: %d %v", resp.StatusCode, decoded)
	}

	signalCh <- syscall.SIGTERM
	if err := <-done; err != nil {
		t.Fatalf("server did not shutdown cleanly: %v", err)
	}
}

func buildGenerateBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, field := range []string{"faceImage", "targetImage"} {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+field+`.png"`)
		header.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := part.Write([]byte("\x89PNG\r\n\x1a\nfake")); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
