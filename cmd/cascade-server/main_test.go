package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cascade-loader/internal/testutil"
	"github.com/Sternrassler/cascade-loader/pkg/acquire"
	"github.com/Sternrassler/cascade-loader/pkg/client"
	"github.com/Sternrassler/cascade-loader/pkg/reveal"
	"github.com/Sternrassler/cascade-loader/pkg/session"
)

func setupServer(t *testing.T, minInterval time.Duration) (*echo.Echo, *session.Manager) {
	t.Helper()

	mock := testutil.NewMockSource(6)
	t.Cleanup(mock.Close)

	cfg := client.DefaultConfig("CascadeTest/1.0")
	cfg.BaseURL = mock.URL()
	source, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	manager := session.NewManager(session.Options{
		Acquire: acquire.Config{PageCount: 3, ItemsPerPage: 2, MinInterval: minInterval},
		Reveal: reveal.Config{
			TargetDuration: 100 * time.Millisecond,
			CadenceTick:    10 * time.Millisecond,
			Policy:         reveal.FixedPolicy,
		},
		ETATotal: 2 * minInterval,
		Pages:    source,
		Keys:     source,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(manager.Cancel)

	return newServer(manager), manager
}

func do(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := setupServer(t, time.Millisecond)

	rec := do(e, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", body)
	}
}

func TestSnapshotWithoutSession(t *testing.T) {
	e, _ := setupServer(t, time.Millisecond)

	if rec := do(e, http.MethodGet, "/snapshot"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/cancel"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestActivateAndSnapshot(t *testing.T) {
	e, manager := setupServer(t, 10*time.Millisecond)

	rec := do(e, http.MethodPost, "/activate")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}
	var started session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode activate response: %v", err)
	}
	if started.RunID == "" {
		t.Error("Expected a run id")
	}

	select {
	case <-manager.Current().Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
	}

	rec = do(e, http.MethodGet, "/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.RunID != started.RunID {
		t.Errorf("run id changed: %s != %s", snap.RunID, started.RunID)
	}
	if snap.Status != acquire.StatusCompleted || snap.Visible != 6 || len(snap.Items) != 6 {
		t.Errorf("unexpected snapshot: status=%s visible=%d items=%d", snap.Status, snap.Visible, len(snap.Items))
	}
}

func TestCancelEndpoint(t *testing.T) {
	e, manager := setupServer(t, time.Minute)

	if rec := do(e, http.MethodPost, "/activate"); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}

	rec := do(e, http.MethodPost, "/cancel")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	select {
	case <-manager.Current().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled session did not stop")
	}
	if status := manager.Current().Status(); status != acquire.StatusAborted {
		t.Errorf("Expected aborted, got %s", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e, _ := setupServer(t, time.Millisecond)

	rec := do(e, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cascade_visible_items") {
		t.Error("Expected cascade_visible_items in metrics output")
	}
}

func TestWebSocketPushesSnapshots(t *testing.T) {
	e, _ := setupServer(t, 10*time.Millisecond)

	srv := httptest.NewServer(e)
	defer srv.Close()

	if rec := do(e, http.MethodPost, "/activate"); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ids := make(map[string]bool)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var snap session.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, item := range snap.Items {
			if ids[item.ID] {
				t.Errorf("item %s pushed twice", item.ID)
			}
			ids[item.ID] = true
		}
		if snap.Status == acquire.StatusCompleted && snap.Visible == 6 {
			break
		}
	}

	if len(ids) != 6 {
		t.Errorf("Expected 6 distinct items over the socket, got %d", len(ids))
	}
}
