package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/plantrack/dataplane/pkg/retry"
)

// TokenSource resolves an access token for a sheet connection.
type TokenSource interface {
	Token(ctx context.Context, connectionID string) (string, error)
}

// StaticTokenSource returns the same token for every connection. Useful for
// single-tenant deployments and tests.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context, string) (string, error) {
	return string(s), nil
}

// SheetClient talks to the external sheet provider's values API. One client
// is shared by all live-sheet datasets; the limiter spreads scheduler sweeps
// out so a burst of due datasets does not hammer the provider.
type SheetClient struct {
	BaseURL string
	Tokens  TokenSource
	HTTP    *http.Client
	Limiter *rate.Limiter
	Retry   retry.Config
}

// NewSheetClient builds a client with a 30s request timeout and no rate cap.
func NewSheetClient(baseURL string, tokens TokenSource) *SheetClient {
	return &SheetClient{
		BaseURL: baseURL,
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Limiter: rate.NewLimiter(rate.Inf, 0),
		Retry:   retry.DefaultConfig(),
	}
}

// Sheet is a Source bound to one document tab through a shared client.
type Sheet struct {
	Client       *SheetClient
	DocumentID   string
	SheetName    string
	ConnectionID string
}

func (s *Sheet) Fetch(ctx context.Context) ([]string, [][]string, error) {
	var grid [][]string
	err := retry.Do(ctx, s.Client.Retry, func() error {
		var err error
		grid, err = s.Client.values(ctx, s.DocumentID, s.SheetName, s.ConnectionID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if len(grid) == 0 {
		return nil, nil, fmt.Errorf("%w: document has no rows", ErrFormat)
	}

	headers := grid[0]
	rows := make([][]string, 0, len(grid)-1)
	for _, r := range grid[1:] {
		rows = append(rows, padRow(r, len(headers)))
	}
	return headers, rows, nil
}

type valuesResponse struct {
	Values [][]string `json:"values"`
}

func (c *SheetClient) values(ctx context.Context, documentID, sheetName, connectionID string) ([][]string, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.Tokens.Token(ctx, connectionID)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %v", ErrAuthExpired, err))
	}

	u := fmt.Sprintf("%s/v1/documents/%s/values", c.BaseURL, url.PathEscape(documentID))
	if sheetName != "" {
		u += "?sheet=" + url.QueryEscape(sheetName)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, retry.Permanent(fmt.Errorf("%w: provider returned %d", ErrAuthExpired, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, retry.Permanent(fmt.Errorf("%w: document %s not found", ErrUnavailable, documentID))
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: provider returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, retry.Permanent(fmt.Errorf("%w: provider returned %d", ErrUnavailable, resp.StatusCode))
	}

	var body valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %v", ErrFormat, err))
	}
	return body.Values, nil
}
