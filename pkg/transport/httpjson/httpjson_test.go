package httpjson

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/transport"
)

func TestHandler_Endpoints(t *testing.T) {
    var triggers atomic.Int32
    h := Handler(transport.Handlers{
        Status:   func(context.Context) ([]byte, error) { return []byte(`{"phase":"IDLE"}`), nil },
        Registry: func(context.Context) ([]byte, error) { return nil, errors.New("boom") },
        Trigger: func(context.Context) ([]byte, error) {
            triggers.Add(1)
            return []byte(`{"cycle_id":"x"}`), nil
        },
        Healthy: func() bool { return false },
    })

    cases := []struct {
        method, path string
        code         int
        body         string
    }{
        {http.MethodGet, "/status", http.StatusOK, `{"phase":"IDLE"}`},
        {http.MethodPost, "/status", http.StatusMethodNotAllowed, ""},
        {http.MethodGet, "/registry", http.StatusInternalServerError, "registry error: boom"},
        {http.MethodGet, "/trigger", http.StatusMethodNotAllowed, ""},
        {http.MethodPost, "/trigger", http.StatusOK, `{"cycle_id":"x"}`},
        {http.MethodGet, "/healthz", http.StatusServiceUnavailable, "not ready"},
    }
    for _, tc := range cases {
        rec := httptest.NewRecorder()
        h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
        if rec.Code != tc.code {
            t.Fatalf("%s %s: code=%d want %d", tc.method, tc.path, rec.Code, tc.code)
        }
        if tc.body != "" && !strings.Contains(rec.Body.String(), tc.body) {
            t.Fatalf("%s %s: body=%q want %q", tc.method, tc.path, rec.Body.String(), tc.body)
        }
    }
    if triggers.Load() != 1 {
        t.Fatalf("trigger ran %d times", triggers.Load())
    }
}

func TestHandler_NilHandlers(t *testing.T) {
    h := Handler(transport.Handlers{})
    for _, p := range []string{"/status", "/registry"} {
        rec := httptest.NewRecorder()
        h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
        if rec.Code != http.StatusNotImplemented {
            t.Fatalf("%s: code=%d", p, rec.Code)
        }
    }
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rec.Code != http.StatusOK {
        t.Fatalf("healthz: code=%d", rec.Code)
    }
}

func TestServerClient_RoundTrip(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv := NewServer("127.0.0.1:0", nil)
    if err := srv.Start(ctx, transport.Handlers{
        Status:   func(context.Context) ([]byte, error) { return []byte(`{"ok":true}`), nil },
        Registry: func(context.Context) ([]byte, error) { return []byte(`{"groups":{}}`), nil },
    }); err != nil {
        t.Fatalf("start: %v", err)
    }
    defer srv.Stop(context.Background())
    if strings.HasSuffix(srv.Addr(), ":0") {
        t.Fatalf("Addr should report the bound port, got %s", srv.Addr())
    }

    c := NewClient(time.Second)
    b, err := c.GetStatus(ctx, srv.Addr())
    if err != nil || string(b) != `{"ok":true}` {
        t.Fatalf("status: %s %v", b, err)
    }
    b, err = c.GetRegistry(ctx, srv.Addr())
    if err != nil || string(b) != `{"groups":{}}` {
        t.Fatalf("registry: %s %v", b, err)
    }
    if _, err := c.PostTrigger(ctx, srv.Addr()); err == nil || !strings.Contains(err.Error(), "501") {
        t.Fatalf("trigger without handler: want 501 error, got %v", err)
    }
}

func TestClient_RetriesReadsNotTriggers(t *testing.T) {
    var reads, triggers atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path == "/trigger" {
            triggers.Add(1)
        } else if reads.Add(1) < 3 {
            http.Error(w, "busy", http.StatusServiceUnavailable)
            return
        }
        http.Error(w, "nope", http.StatusBadGateway)
    }))
    defer srv.Close()
    addr := strings.TrimPrefix(srv.URL, "http://")
    c := NewClient(time.Second)

    _, err := c.GetStatus(context.Background(), addr)
    var se *StatusError
    if !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Body != "nope\n" {
        t.Fatalf("want final 502, got %v", err)
    }
    if reads.Load() != 3 { t.Fatalf("reads = %d, want 3", reads.Load()) }

    if _, err := c.PostTrigger(context.Background(), addr); err == nil { t.Fatalf("want trigger error") }
    if triggers.Load() != 1 { t.Fatalf("trigger sent %d times", triggers.Load()) }
}
