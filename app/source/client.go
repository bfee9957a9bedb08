package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/skyline-data/flight-board/app/flights"
)

// Client pages through a CKAN datastore_search endpoint. One FetchAll call
// is one batch: any non-200 response or network failure aborts the whole
// fetch and surfaces to the caller; retry policy belongs to the scheduler.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	pageSize   int
}

// datastoreResponse is the subset of the CKAN envelope we consume.
type datastoreResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []flights.RawRecord `json:"records"`
		Total   int                 `json:"total"`
	} `json:"result"`
}

func NewClient(httpClient *http.Client, baseURL, userAgent string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  userAgent,
		pageSize:   pageSize,
	}
}

// FetchAll retrieves every record of the resource with limit/offset paging,
// stopping at the first empty page.
func (c *Client) FetchAll(ctx context.Context, resourceID string) ([]flights.RawRecord, error) {
	var all []flights.RawRecord
	offset := 0

	for {
		records, err := c.fetchPage(ctx, resourceID, offset)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}

		all = append(all, records...)
		offset += c.pageSize

		slog.Debug("Fetched page", "resource", resourceID,
			"page_records", len(records), "total", len(all))
	}

	slog.Info("Fetch complete", "resource", resourceID, "records", len(all))
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, resourceID string, offset int) ([]flights.RawRecord, error) {
	params := url.Values{}
	params.Set("resource_id", resourceID)
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var envelope datastoreResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return envelope.Result.Records, nil
}
