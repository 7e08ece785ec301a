// Package source fetches order records from the hosted PostgREST backend.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/uzulabs/gridsync/internal/config"
	"github.com/uzulabs/gridsync/internal/types"
	"github.com/uzulabs/gridsync/internal/window"
)

// filterLayout is how window bounds appear in query filters. PostgREST
// parses ISO 8601; the bounds are already localized by the caller.
const filterLayout = "2006-01-02T15:04:05"

// Client talks to a PostgREST table endpoint with key-based auth.
type Client struct {
	baseURL       string
	key           string
	table         string
	pageSize      int
	orderBy       string
	modifiedField string

	httpClient *http.Client
	logger     *slog.Logger

	retryBase    time.Duration
	retryAttempt uint64
}

// Query narrows a fetch. The zero value fetches the whole table.
type Query struct {
	// Window bounds the modified-time column, inclusive on both ends.
	Window *window.Window

	// Filters holds extra PostgREST operator filters, e.g.
	// {"order_status": "eq.CANCELED"}.
	Filters map[string]string

	// Limit caps the total number of records fetched; 0 means no cap.
	Limit int
}

// NewClient builds a Client from the source configuration.
func NewClient(cfg config.Source, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		key:           cfg.Key,
		table:         cfg.Table,
		pageSize:      cfg.PageSize,
		orderBy:       cfg.OrderBy,
		modifiedField: cfg.ModifiedField,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
		retryBase:     500 * time.Millisecond,
		retryAttempt:  4,
	}
}

// FetchPage fetches a single page at the given offset.
func (c *Client) FetchPage(ctx context.Context, q Query, offset int) ([]types.Record, error) {
	limit := c.pageSize
	if q.Limit > 0 && q.Limit < limit {
		limit = q.Limit
	}
	return c.get(ctx, c.tableURL(q, offset, limit))
}

// FetchAll walks the table page by page until a short page signals the end.
// Records come back in a stable order so identical runs see identical
// batches.
func (c *Client) FetchAll(ctx context.Context, q Query) ([]types.Record, error) {
	var all []types.Record
	offset := 0

	for {
		pageLimit := c.pageSize
		if q.Limit > 0 && q.Limit-len(all) < pageLimit {
			pageLimit = q.Limit - len(all)
		}
		if pageLimit <= 0 {
			break
		}

		page, err := c.get(ctx, c.tableURL(q, offset, pageLimit))
		if err != nil {
			return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		all = append(all, page...)

		c.logger.Debug("fetched page",
			"table", c.table,
			"offset", offset,
			"rows", len(page),
		)

		if len(page) < pageLimit {
			break
		}
		offset += len(page)
	}

	c.logger.Info("fetch complete", "table", c.table, "rows", len(all))
	return all, nil
}

// CallFunction invokes a PostgREST RPC endpoint (a stored function).
func (c *Client) CallFunction(ctx context.Context, name string, args map[string]any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode rpc args: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, name)
	return c.withRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		c.setAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		return c.statusError(resp)
	})
}

func (c *Client) tableURL(q Query, offset, limit int) string {
	params := url.Values{}
	params.Set("select", "*")
	if c.orderBy != "" {
		params.Set("order", c.orderBy+".asc")
	}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))

	if q.Window != nil {
		params.Add(c.modifiedField, "gte."+q.Window.Start.Format(filterLayout))
		params.Add(c.modifiedField, "lte."+q.Window.End.Format(filterLayout))
	}
	for field, cond := range q.Filters {
		params.Add(field, cond)
	}

	return fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, c.table, params.Encode())
}

func (c *Client) get(ctx context.Context, endpoint string) ([]types.Record, error) {
	var records []types.Record

	err := c.withRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		c.setAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return c.statusError(resp)
		}

		records = records[:0]
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) withRetry(ctx context.Context, op func(context.Context) error) error {
	backoff := retry.WithMaxRetries(c.retryAttempt, retry.NewFibonacci(c.retryBase))
	return retry.Do(ctx, backoff, op)
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
}

// statusError converts a non-success response into an error, marking
// throttling and server-side failures as retryable.
func (c *Client) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := &APIError{Status: resp.StatusCode, Body: string(snippet)}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		c.logger.Warn("transient source error", "status", resp.StatusCode)
		return retry.RetryableError(err)
	}
	return err
}

// APIError is a non-success response from the source backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("source returned status %d", e.Status)
	}
	return fmt.Sprintf("source returned status %d: %s", e.Status, e.Body)
}
