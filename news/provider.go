package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultNewsBaseURL is the CryptoPanic-compatible feed endpoint.
const DefaultNewsBaseURL = "https://cryptopanic.com/api"

// HTTPProvider pulls the article feed from a JSON news API.
type HTTPProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewHTTPProvider(apiKey, baseURL string) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultNewsBaseURL
	}
	return &HTTPProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *HTTPProvider) Fetch(ctx context.Context) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/articles?auth_token="+p.apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news API error (status %d): %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Results []Article `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse articles: %w", err)
	}

	return payload.Results, nil
}
