package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/beerduel/internal/domain/level"
	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/types"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 4 << 10

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to a running beerduel server.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type registerRequest struct {
	Name     string  `json:"name"`
	Producer string  `json:"producer,omitempty"`
	Style    string  `json:"style,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
}

type outcomeRequest struct {
	OutcomeID string `json:"outcome_id,omitempty"`
	UserID    string `json:"user_id"`
	WinnerID  string `json:"winner_id"`
	LoserID   string `json:"loser_id"`
	Draw      bool   `json:"draw"`
}

// ItemResponse mirrors the server's item representation.
type ItemResponse struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Rating float64          `json:"rating"`
	Duels  int              `json:"duels"`
	Rarity model.RarityTier `json:"rarity"`
	Active bool             `json:"active"`
}

// ClassifyResponse mirrors the server's classification report.
type ClassifyResponse struct {
	Population int                      `json:"population"`
	Counts     map[model.RarityTier]int `json:"counts"`
	Version    uint64                   `json:"snapshot_version"`
}

// ProgressResponse mirrors a user's progress.
type ProgressResponse struct {
	UserID string     `json:"user_id"`
	XP     int64      `json:"xp"`
	Level  level.Info `json:"level"`
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// RegisterItem registers a new beer and returns the server's view of it.
func (c *Client) RegisterItem(ctx context.Context, name, style string) (ItemResponse, error) {
	var out ItemResponse
	err := c.do(ctx, http.MethodPost, "/items", registerRequest{Name: name, Style: style}, &out)
	return out, err
}

// NextPair asks for the next duel for a user.
func (c *Client) NextPair(ctx context.Context, userID string) (types.Pair, error) {
	var out types.Pair
	err := c.do(ctx, http.MethodGet, "/duels/next?user_id="+url.QueryEscape(userID), nil, &out)
	return out, err
}

// RecordOutcome submits a duel result.
func (c *Client) RecordOutcome(ctx context.Context, outcomeID, userID, winnerID, loserID string, draw bool) (types.DuelResult, error) {
	var out types.DuelResult
	err := c.do(ctx, http.MethodPost, "/duels", outcomeRequest{
		OutcomeID: outcomeID,
		UserID:    userID,
		WinnerID:  winnerID,
		LoserID:   loserID,
		Draw:      draw,
	}, &out)
	return out, err
}

// Leaderboard fetches the top limit entries.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	var out []types.Entry
	err := c.do(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

// Rarity fetches the current tier of one item.
func (c *Client) Rarity(ctx context.Context, itemID string) (types.Rarity, error) {
	var out types.Rarity
	err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(itemID)+"/rarity", nil, &out)
	return out, err
}

// Progress fetches a user's XP and level.
func (c *Client) Progress(ctx context.Context, userID string) (ProgressResponse, error) {
	var out ProgressResponse
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/progress", nil, &out)
	return out, err
}

// Classify forces a classification pass.
func (c *Client) Classify(ctx context.Context) (ClassifyResponse, error) {
	var out ClassifyResponse
	err := c.do(ctx, http.MethodPost, "/admin/classify", nil, &out)
	return out, err
}

// Stats fetches the service statistics.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		se := &StatusError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(data, se)
		return se
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
