package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brewstamp/brewstamp/internal/stamp"
)

// ErrConflict means the request was missing or already decided.
var ErrConflict = errors.New("request not found or already processed")

// API is the durable side the controllers call before relaying.
type API interface {
	CreateRequest(ctx context.Context, shopID, customerID string, redeem bool) (*stamp.Request, error)
	DecideRequest(ctx context.Context, id string, d stamp.Decision) (*DecisionResult, error)
}

// DecisionResult is the API's answer to a decision.
type DecisionResult struct {
	Request   *stamp.Request `json:"request"`
	StampCard *stamp.Card    `json:"stampCard,omitempty"`
	Redeemed  bool           `json:"redeemed"`
}

// HTTPAPI calls the stamp-request endpoints over HTTP.
type HTTPAPI struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPAPI creates a client for the service at baseURL.
func NewHTTPAPI(baseURL string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (a *HTTPAPI) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode >= 400:
		return fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// CreateRequest opens a new pending request for the pair.
func (a *HTTPAPI) CreateRequest(ctx context.Context, shopID, customerID string, redeem bool) (*stamp.Request, error) {
	body := map[string]any{"shopId": shopID, "customerId": customerID, "redeem": redeem}
	var resp struct {
		Request *stamp.Request `json:"request"`
	}
	if err := a.doRequest(ctx, http.MethodPost, "/api/stamp-request", body, &resp); err != nil {
		return nil, err
	}
	if resp.Request == nil {
		return nil, errors.New("api returned no request")
	}
	return resp.Request, nil
}

// DecideRequest approves or rejects a pending request.
func (a *HTTPAPI) DecideRequest(ctx context.Context, id string, d stamp.Decision) (*DecisionResult, error) {
	body := map[string]any{"status": d.Status, "stampsAwarded": d.StampsAwarded, "redeem": d.Redeem}
	var resp DecisionResult
	if err := a.doRequest(ctx, http.MethodPatch, "/api/stamp-request/"+id, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
