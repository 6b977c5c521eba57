package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// httpresolver talks to a remote account service over its JSON API:
// GET /sessions/{token} and POST /users/{id}/rating.
type httpresolver struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type HTTPOption func(*httpresolver)

func WithTimeout(d time.Duration) HTTPOption {
	return func(r *httpresolver) { r.defaultTimeout = d }
}

func NewHTTPResolver(baseURL, apiKey string, opts ...HTTPOption) *httpresolver {
	r := &httpresolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 64,
		},
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type sessionResponse struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Elo      int    `json:"elo"`
}

func (r *httpresolver) ResolveSession(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}
	var out sessionResponse
	status, err := r.doJSON(ctx, fasthttp.MethodGet, "/sessions/"+token, nil, &out)
	if err != nil {
		return nil, err
	}
	if status == fasthttp.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("identity api status %d", status)
	}
	return &User{UserID: out.UserID, Username: out.Username, Rating: out.Elo}, nil
}

type ratingRequest struct {
	Elo int `json:"elo"`
}

func (r *httpresolver) PersistRating(ctx context.Context, userID int64, rating int) error {
	path := fmt.Sprintf("/users/%d/rating", userID)
	status, err := r.doJSON(ctx, fasthttp.MethodPost, path, ratingRequest{Elo: rating}, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("identity api status %d", status)
	}
	return nil
}

func (r *httpresolver) doJSON(ctx context.Context, method, path string, in, out any) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(r.baseURL + path)
	req.Header.SetContentType("application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	if err := r.http.DoDeadline(req, resp, r.computeDeadline(ctx)); err != nil {
		return 0, fmt.Errorf("identity request: %w", err)
	}
	status := resp.StatusCode()
	if out != nil && status >= 200 && status < 300 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return status, fmt.Errorf("decode response: %w", err)
		}
	}
	return status, nil
}

func (r *httpresolver) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(r.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}
