package httpjson

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/transport"
)

// maxBody caps how much of a management answer is read.
const maxBody = 16 << 20

// StatusError is a non-200 answer from a node.
type StatusError struct {
    Method, Path string
    Code         int
    Body         string
}

func (e *StatusError) Error() string {
    return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

// Client calls the management endpoints of a node. Reads are retried with
// backoff on transport errors and 5xx answers; triggers are sent once.
type Client struct {
    http   *http.Client
    rt     *http.Transport
    scheme string
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    rt := http.DefaultTransport.(*http.Transport).Clone()
    return &Client{http: &http.Client{Timeout: timeout, Transport: rt}, rt: rt, scheme: "http"}
}

// UseTLS switches the client to https with cfg. A nil cfg goes back to
// plain http.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.rt.TLSClientConfig = cfg
    c.scheme = "http"
    if cfg != nil { c.scheme = "https" }
    return c
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.get(ctx, addr, "/status")
}

func (c *Client) GetRegistry(ctx context.Context, addr string) ([]byte, error) {
    return c.get(ctx, addr, "/registry")
}

// PostTrigger is never retried; a retry could run a second cycle.
func (c *Client) PostTrigger(ctx context.Context, addr string) ([]byte, error) {
    return c.send(ctx, http.MethodPost, addr, "/trigger")
}

func (c *Client) get(ctx context.Context, addr, path string) ([]byte, error) {
    const attempts = 3
    wait := 100 * time.Millisecond
    for i := 1; ; i++ {
        b, err := c.send(ctx, http.MethodGet, addr, path)
        if err == nil || i == attempts || !retryable(err) { return b, err }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(wait):
        }
        wait *= 2
    }
}

func retryable(err error) bool {
    var se *StatusError
    if errors.As(err, &se) { return se.Code >= 500 && se.Code != http.StatusNotImplemented }
    return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) send(ctx context.Context, method, addr, path string) ([]byte, error) {
    req, err := http.NewRequestWithContext(ctx, method, c.scheme+"://"+addr+path, nil)
    if err != nil { return nil, err }
    req.Header.Set("Accept", "application/json")
    resp, err := c.http.Do(req)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
    if err != nil { return nil, err }
    if resp.StatusCode != http.StatusOK {
        return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(b)}
    }
    return b, nil
}

var _ transport.ManagementClient = (*Client)(nil)
