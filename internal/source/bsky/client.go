// Package bsky adapts a Bluesky home timeline to the source crawler using
// the AT Protocol XRPC endpoints.
package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/source"
)

// DefaultService is the public Bluesky PDS entryway.
const DefaultService = "https://bsky.social"

const (
	createSessionPath = "/xrpc/com.atproto.server.createSession"
	getTimelinePath   = "/xrpc/app.bsky.feed.getTimeline"
	repostReason      = "reasonRepost"
)

// Adapter reads the authenticated account's reverse-chronological timeline.
type Adapter struct {
	service    string
	identifier string
	password   string
	client     *http.Client

	mu        sync.RWMutex
	accessJWT string
}

var _ source.Adapter = (*Adapter)(nil)

// New builds an Adapter. client may be nil.
func New(cfg crawler.BskySource, client *http.Client) (*Adapter, error) {
	if cfg.Identifier == "" || cfg.Password == "" {
		return nil, fmt.Errorf("bsky identifier and password are required")
	}
	service := strings.TrimRight(cfg.Service, "/")
	if service == "" {
		service = DefaultService
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		service:    service,
		identifier: cfg.Identifier,
		password:   cfg.Password,
		client:     client,
	}, nil
}

// Kind reports SourceKindBsky.
func (a *Adapter) Kind() crawler.SourceKind { return crawler.SourceKindBsky }

type sessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	AccessJWT string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Authenticate creates a session and keeps its access token.
func (a *Adapter) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(sessionRequest{Identifier: a.identifier, Password: a.password})
	if err != nil {
		return fmt.Errorf("encode session request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.service+createSessionPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var session sessionResponse
	if err := a.do(req, &session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if session.AccessJWT == "" {
		return fmt.Errorf("create session: empty access token")
	}
	a.mu.Lock()
	a.accessJWT = session.AccessJWT
	a.mu.Unlock()
	return nil
}

type timelineResponse struct {
	Cursor string            `json:"cursor"`
	Feed   []json.RawMessage `json:"feed"`
}

// FetchPage requests one timeline page older than cursor.
func (a *Adapter) FetchPage(ctx context.Context, cursor string, limit int) (source.Page, error) {
	a.mu.RLock()
	token := a.accessJWT
	a.mu.RUnlock()
	if token == "" {
		return source.Page{}, fmt.Errorf("not authenticated")
	}

	q := url.Values{}
	q.Set("algorithm", "reverse-chronological")
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.service+getTimelinePath+"?"+q.Encode(), nil)
	if err != nil {
		return source.Page{}, fmt.Errorf("build timeline request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var timeline timelineResponse
	if err := a.do(req, &timeline); err != nil {
		return source.Page{}, fmt.Errorf("get timeline: %w", err)
	}
	return source.Page{Entries: timeline.Feed, NextCursor: timeline.Cursor}, nil
}

func (a *Adapter) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &crawler.HTTPStatusError{Code: resp.StatusCode}
		var xerr xrpcError
		if json.Unmarshal(body, &xerr) == nil && xerr.Error != "" {
			serr.Message = xerr.Error + ": " + xerr.Message
		}
		return serr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
