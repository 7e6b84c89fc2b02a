package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"decoration-service/internal/models"
)

// HTTPLoader fetches order snapshots from the service's REST API
type HTTPLoader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLoader creates a loader for a service reachable at baseURL
func NewHTTPLoader(baseURL string, timeout time.Duration) *HTTPLoader {
	return &HTTPLoader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type errorBody struct {
	Error   string           `json:"error"`
	Kind    models.ErrorKind `json:"kind"`
	Details string           `json:"details"`
}

// LoadOrder implements SnapshotLoader
func (l *HTTPLoader) LoadOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	endpoint := fmt.Sprintf("%s/api/v1/orders/%s", l.baseURL, url.PathEscape(orderNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderNumber, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Kind != "" {
			return nil, &models.Error{Kind: eb.Kind, Message: eb.Details}
		}
		return nil, fmt.Errorf("failed to load order %s: unexpected status %d", orderNumber, resp.StatusCode)
	}

	var order models.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("failed to decode order %s: %w", orderNumber, err)
	}
	return &order, nil
}
