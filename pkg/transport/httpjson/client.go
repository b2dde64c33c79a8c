package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/cenkalti/backoff/v4"

    "github.com/amirimatin/go-shardstore/pkg/transport"
)

// Client is a thin HTTP client for the management API. Every call is tried
// up to three times with exponential backoff; a response carrying an error
// status is final.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.transport.TLSClientConfig = cfg
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string, q url.Values) string {
    scheme := "http"
    if c.isTLS {
        scheme = "https"
    }
    u := url.URL{Scheme: scheme, Host: addr, Path: path}
    if q != nil {
        u.RawQuery = q.Encode()
    }
    return u.String()
}

// do sends one request, retrying transport errors, and returns the status
// code and body of the first response.
func (c *Client) do(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
    var code int
    var out []byte
    op := func() error {
        var rd io.Reader
        if body != nil {
            rd = bytes.NewReader(body)
        }
        req, err := http.NewRequestWithContext(ctx, method, target, rd)
        if err != nil { return backoff.Permanent(err) }
        if body != nil {
            req.Header.Set("Content-Type", "application/json")
        }
        resp, err := c.httpc.Do(req)
        if err != nil { return err }
        defer resp.Body.Close()
        b, err := io.ReadAll(resp.Body)
        if err != nil { return err }
        code, out = resp.StatusCode, b
        return nil
    }
    bo := backoff.NewExponentialBackOff()
    bo.InitialInterval = 100 * time.Millisecond
    err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
    return code, out, err
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    code, b, err := c.do(ctx, http.MethodGet, c.url(addr, "/status", nil), nil)
    if err != nil { return nil, err }
    if code != http.StatusOK { return nil, fmt.Errorf("status %d: %s", code, bytes.TrimSpace(b)) }
    return b, nil
}

// post sends req as JSON and decodes the reply into out; errorOf extracts
// the error carried in out.
func (c *Client) post(ctx context.Context, addr, path string, req, out any, errorOf func() string) error {
    body, err := json.Marshal(req)
    if err != nil { return err }
    code, b, err := c.do(ctx, http.MethodPost, c.url(addr, path, nil), body)
    if err != nil { return err }
    _ = json.Unmarshal(b, out)
    if code == http.StatusOK { return nil }
    if msg := errorOf(); msg != "" { return errors.New(msg) }
    return fmt.Errorf("%s status %d: %s", path, code, bytes.TrimSpace(b))
}

func (c *Client) PostJoin(ctx context.Context, addr string, req transport.JoinRequest) (transport.JoinResponse, error) {
    var out transport.JoinResponse
    err := c.post(ctx, addr, "/join", req, &out, func() string { return out.Error })
    return out, err
}

func (c *Client) PostLeave(ctx context.Context, addr string, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    var out transport.LeaveResponse
    err := c.post(ctx, addr, "/leave", req, &out, func() string { return out.Error })
    return out, err
}

// Data maps req onto /data: GET reads, PUT writes, PATCH merges and DELETE
// deletes. A read of a missing subtree returns Found false and no error.
func (c *Client) Data(ctx context.Context, addr string, req transport.DataRequest) (transport.DataResponse, error) {
    var out transport.DataResponse
    method := map[string]string{
        transport.OpRead:   http.MethodGet,
        transport.OpWrite:  http.MethodPut,
        transport.OpMerge:  http.MethodPatch,
        transport.OpDelete: http.MethodDelete,
    }[req.Op]
    if method == "" { return out, fmt.Errorf("httpjson: unknown data op %q", req.Op) }
    var body []byte
    if req.Record != nil {
        var err error
        if body, err = json.Marshal(req.Record); err != nil { return out, err }
    }
    target := c.url(addr, "/data", url.Values{"shard": {req.Shard}, "path": {req.Path}})
    code, b, err := c.do(ctx, method, target, body)
    if err != nil { return out, err }
    _ = json.Unmarshal(b, &out)
    switch {
    case code == http.StatusOK:
        return out, nil
    case code == http.StatusNotFound && req.Op == transport.OpRead:
        return transport.DataResponse{}, nil
    case out.Error != "":
        return out, errors.New(out.Error)
    }
    return out, fmt.Errorf("/data status %d: %s", code, bytes.TrimSpace(b))
}

var _ transport.RPCClient = (*Client)(nil)
