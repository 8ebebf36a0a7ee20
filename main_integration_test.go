package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/config"
	"github.com/example/face-analysis/internal/controller"
	"github.com/example/face-analysis/internal/normalizer"
)

// TestServerGracefulShutdown checks that a prediction in flight when the
// host is told to stop still completes, and that open event streams end
// instead of holding the shutdown until its deadline.
func TestServerGracefulShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	classifier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-requestStarted:
		default:
			close(requestStarted)
		}
		<-releaseRequest
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(classifierBody))
	}))
	defer classifier.Close()

	a := &app{cfg: config.Default(), logger: logger}
	a.cfg.Predict.Endpoint = classifier.URL + "/predict"
	h := a.newHost()
	defer h.sessions.CloseAll()

	ctrl := h.sessions.Create()
	if err := ctrl.SelectImage(t.Context(), normalizer.SourceImage{
		Data:   readPNG(t, writePNG(t, 12, 12)),
		Origin: normalizer.OriginPicker,
	}); err != nil {
		t.Fatalf("failed to select image: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, h.server, listener, 5*time.Second, logger)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	stream, err := http.Get("http://" + addr + "/api/sessions/" + ctrl.ID() + "/events")
	if err != nil {
		t.Fatalf("failed to open event stream: %v", err)
	}
	defer stream.Body.Close()
	streamReader := bufio.NewReader(stream.Body)
	if _, err := streamReader.ReadString('\n'); err != nil {
		t.Fatalf("failed to read initial event: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+addr+"/api/sessions/"+ctrl.ID()+"/submit", "application/json", nil)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	start := time.Now()
	stop()
	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
		var out struct {
			View  controller.View `json:"view"`
			Error string          `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if out.Error != "" || !out.View.HasPrediction {
			t.Fatalf("expected a completed prediction, got %+v", out)
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
	case <-time.After(3 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
	if elapsed := time.Since(start); elapsed >= 3*time.Second {
		t.Fatalf("shutdown waited %s for open streams", elapsed)
	}

	if _, err := io.ReadAll(streamReader); err != nil {
		t.Fatalf("event stream did not end cleanly: %v", err)
	}
}

func readPNG(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read image: %v", err)
	}
	return data
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
