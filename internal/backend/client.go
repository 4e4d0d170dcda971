// Package backend talks to the off-chain settlement service: it asks it to
// prepare a commitment and tells it when the commitment is on chain.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/retry"
)

// PrepareRequest asks the preparation service for a commitment.
type PrepareRequest struct {
	PredictionID    string `json:"prediction_id"`
	ProposalID      string `json:"proposal_id"`
	WinningOptionID string `json:"winning_option_id,omitempty"`
	UserID          string `json:"user_id"`
	Reason          string `json:"reason"`
}

// Prepared is the preparation service response.
type Prepared struct {
	CommitmentID string `json:"commitment_id"`
	commitment.Commitment
}

// OnchainNotice tells the off-chain system a commitment is on chain.
type OnchainNotice struct {
	PredictionID string          `json:"prediction_id"`
	TxHash       string          `json:"tx_hash"`
	MerkleRoot   commitment.Hash `json:"merkle_root"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	Retry      retry.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("backend base url is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Client is the HTTP client for the preparation and notification endpoints.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

// Prepare requests a commitment for the proposal. The service validates the
// requesting user server-side.
func (c *Client) Prepare(ctx context.Context, req PrepareRequest) (*Prepared, error) {
	const op = "backend.prepare"

	var out Prepared
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		return c.post(ctx, "/settlement/prepare", req, &out)
	})
	if err != nil {
		c.cfg.Logger.Warn("prepare request failed", "prediction_id", req.PredictionID, "proposal_id", req.ProposalID, "error", err)
		return nil, classify(op, err)
	}
	if err := out.Commitment.Validate(); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindPreparation, Op: op, Message: "invalid commitment", Err: err}
	}
	return &out, nil
}

// NotifyOnchain reports a confirmed settlement.
func (c *Client) NotifyOnchain(ctx context.Context, notice OnchainNotice) error {
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		return c.post(ctx, "/settlement/onchain", notice, nil)
	})
	if err != nil {
		c.cfg.Logger.Warn("onchain notification failed", "prediction_id", notice.PredictionID, "tx_hash", notice.TxHash, "error", err)
		return classify("backend.notify", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.ServiceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: errorMessage(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies and falls back to the raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

func classify(op string, err error) *apperr.Error {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusBadRequest:
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &apperr.Error{Kind: apperr.KindAuthorization, Op: op, Err: err}
		case http.StatusNotFound:
			return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Err: err}
		default:
			return &apperr.Error{Kind: apperr.KindPreparation, Op: op, Err: err}
		}
	}
	if errors.Is(err, context.Canceled) {
		return &apperr.Error{Kind: apperr.KindUserRejected, Op: op, Message: "user cancelled", Err: err}
	}
	return &apperr.Error{Kind: apperr.KindNetwork, Op: op, Err: err}
}
