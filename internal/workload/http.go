package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/tideline/internal/metrics"
)

// ErrStatus marks a response whose status code is 400 or above.
var ErrStatus = errors.New("unexpected status")

// Request is one HTTP call in an HTTP workload iteration. URL, header
// values and Body support {{name}} placeholders.
type Request struct {
	Name      string
	Method    string
	URL       string
	Headers   map[string]string
	Body      string
	Timeout   time.Duration
	ThinkTime time.Duration
	Extract   []Extract
}

// Extract copies part of a response into the actor's scope.
type Extract struct {
	Name string
	// Source is "body", "header" or "status".
	Source string
	// Path is a header name or a JSON path into the body.
	Path string
}

// HTTP runs its requests in order on every iteration.
type HTTP struct {
	Client    *http.Client
	BaseURL   string
	Variables map[string]string
	Requests  []Request
	Metrics   *metrics.Engine
}

// ClientOptions tunes the shared HTTP client.
type ClientOptions struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
}

// DefaultClientOptions returns connection pool settings suited to many
// concurrent actors sharing one client.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewClient builds a client with a dedicated transport.
func NewClient(opts ClientOptions) *http.Client {
	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        opts.MaxIdleConns,
			MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
			MaxConnsPerHost:     opts.MaxConnsPerHost,
			IdleConnTimeout:     opts.IdleConnTimeout,
			DisableKeepAlives:   opts.DisableKeepAlives,
		},
	}
}

// Iterate executes every request once. It stops early, without error, when
// the actor is retiring. Every request is recorded in Metrics; the first
// failure is returned after the remaining requests have run.
func (w *HTTP) Iterate(ctx context.Context, it *Iteration) error {
	var firstErr error

	for i, req := range w.Requests {
		if isClosed(it.Retiring) {
			return firstErr
		}

		if err := w.do(ctx, it, req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("request %s: %w", requestLabel(req, i), err)
			}
		}

		if req.ThinkTime > 0 && i < len(w.Requests)-1 {
			if err := sleep(ctx, it.Retiring, req.ThinkTime); err != nil {
				return err
			}
		}
	}

	return firstErr
}

func (w *HTTP) do(ctx context.Context, it *Iteration, req Request) error {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	status, body, header, err := w.send(ctx, it, req)
	elapsed := time.Since(start)

	if err == nil && status >= http.StatusBadRequest {
		err = fmt.Errorf("%w: %d", ErrStatus, status)
	}
	if w.Metrics != nil {
		w.Metrics.RecordLatency(elapsed, req.Name, err == nil, int64(len(body)))
	}
	if err != nil {
		return err
	}

	extractInto(it.Data, req.Extract, status, header, body)
	return nil
}

func (w *HTTP) send(ctx context.Context, it *Iteration, req Request) (int, []byte, http.Header, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(w.resolve(it, req.Body))
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), w.url(it, req.URL), body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, w.resolve(it, v))
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, data, resp.Header, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, data, resp.Header, nil
}

func (w *HTTP) url(it *Iteration, raw string) string {
	u := w.resolve(it, raw)
	if w.BaseURL != "" && strings.HasPrefix(u, "/") {
		return strings.TrimSuffix(w.BaseURL, "/") + u
	}
	return u
}

// resolve replaces {{name}} placeholders. Actor scope wins over workload
// variables; "actor" and "iteration" are always defined. Unknown
// placeholders are left untouched.
func (w *HTTP) resolve(it *Iteration, s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	var b strings.Builder
	for {
		open := strings.Index(s, "{{")
		if open < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[open:], "}}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += open

		b.WriteString(s[:open])
		key := strings.TrimSpace(s[open+2 : end])
		if v, ok := w.lookup(it, key); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[open : end+2])
		}
		s = s[end+2:]
	}
	return b.String()
}

func (w *HTTP) lookup(it *Iteration, key string) (string, bool) {
	if it.Data != nil {
		if v, ok := it.Data.Get(key); ok {
			return fmt.Sprint(v), true
		}
	}
	if v, ok := w.Variables[key]; ok {
		return v, true
	}
	switch key {
	case "actor":
		return strconv.Itoa(it.ActorID), true
	case "iteration":
		return strconv.FormatInt(it.Number, 10), true
	}
	return "", false
}

func extractInto(scope Scope, extracts []Extract, status int, header http.Header, body []byte) {
	if scope == nil {
		return
	}
	for _, ex := range extracts {
		var value string
		switch ex.Source {
		case "header":
			value = header.Get(ex.Path)
		case "status":
			value = strconv.Itoa(status)
		case "body", "":
			if ex.Path == "" {
				value = string(body)
				break
			}
			res := gjson.GetBytes(body, gjsonPath(ex.Path))
			if res.Exists() {
				value = res.String()
			}
		}
		if value != "" {
			scope.Set(ex.Name, value)
		}
	}
}

// gjsonPath accepts either gjson syntax or simple JSONPath ("$.a[0].b").
func gjsonPath(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}
	path = strings.NewReplacer("['", ".", "']", "", `["`, ".", `"]`, "", "[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}

func requestLabel(req Request, i int) string {
	if req.Name != "" {
		return strconv.Quote(req.Name)
	}
	return "#" + strconv.Itoa(i)
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
