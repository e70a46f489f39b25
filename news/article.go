package news

import (
	"context"
	"time"
)

// Article is one cached news item. PublishedAt is normalised to UTC on
// ingest; all downstream age calculations assume UTC.
type Article struct {
	ID          string    `json:"id"`
	PublishedAt time.Time `json:"published_at"`
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	Sentiment   string    `json:"sentiment"` // Positive, Negative, Neutral
	Tickers     []string  `json:"tickers"`
	Impact      string    `json:"impact,omitempty"`
	Urgency     string    `json:"urgency,omitempty"`
	RiskLevel   string    `json:"risk_level,omitempty"`
}

// Provider fetches the current article feed from an upstream source.
type Provider interface {
	Fetch(ctx context.Context) ([]Article, error)
}
