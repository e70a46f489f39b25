package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-autotrader/news"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []Message) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func batch() []news.Article {
	return []news.Article{
		{ID: "a1", Headline: "Bitcoin ETF inflows hit record highs this week"},
		{ID: "a2", Headline: "Exchange outage sparks brief selloff"},
	}
}

const buyResponse = `Here is my analysis:
{"signal": "BUY", "confidence": 0.82, "sentiment": "bullish", "urgency": "high", "risk_level": "medium", "reasoning": "strong inflows"}`

func newTestAnalyzer(llm ChatClient, clock news.Clock) *Analyzer {
	a := NewAnalyzer(llm, clock, zerolog.Nop())
	return a
}

func TestAnalyzeBatchEmptyHolds(t *testing.T) {
	llm := &scriptedLLM{response: buyResponse}
	a := newTestAnalyzer(llm, nil)

	sig := a.AnalyzeBatch(context.Background(), "BTCUSDT", nil)
	assert.Equal(t, ActionHold, sig.Action)
	assert.Zero(t, sig.Confidence)
	assert.Zero(t, llm.calls, "empty batch must not invoke the LLM")
}

func TestAnalyzeBatchCachesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	llm := &scriptedLLM{response: buyResponse}
	a := newTestAnalyzer(llm, clock)

	first := a.AnalyzeBatch(context.Background(), "BTCUSDT", batch())
	require.Equal(t, ActionBuy, first.Action)
	require.Equal(t, 1, llm.calls)

	// Identical batch within the TTL: the prior signal verbatim, no
	// second invocation.
	clock.Advance(30 * time.Minute)
	second := a.AnalyzeBatch(context.Background(), "BTCUSDT", batch())
	assert.Same(t, first, second)
	assert.Equal(t, 1, llm.calls)

	// Past the TTL the LLM is consulted again.
	clock.Advance(31 * time.Minute)
	a.AnalyzeBatch(context.Background(), "BTCUSDT", batch())
	assert.Equal(t, 2, llm.calls)
}

func TestAnalyzeBatchKeyIncludesSymbol(t *testing.T) {
	llm := &scriptedLLM{response: buyResponse}
	a := newTestAnalyzer(llm, nil)

	a.AnalyzeBatch(context.Background(), "BTCUSDT", batch())
	a.AnalyzeBatch(context.Background(), "ETHUSDT", batch())

	assert.Equal(t, 2, llm.calls, "same batch for different symbols must not share a cache entry")
}

func TestAnalyzeBatchFailureNotCached(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("upstream down")}
	a := newTestAnalyzer(llm, nil)

	sig := a.AnalyzeBatch(context.Background(), "BTCUSDT", batch())
	assert.Equal(t, ActionHold, sig.Action)
	assert.Zero(t, sig.Confidence)

	// Next cycle retries instead of serving the failed result.
	llm.err = nil
	llm.response = buyResponse
	sig = a.AnalyzeBatch(context.Background(), "BTCUSDT", batch())
	assert.Equal(t, ActionBuy, sig.Action)
}

func TestAnalyzeBatchParseFailureHolds(t *testing.T) {
	llm := &scriptedLLM{response: "I cannot answer that."}
	a := newTestAnalyzer(llm, nil)

	sig := a.AnalyzeBatch(context.Background(), "BTCUSDT", batch())
	assert.Equal(t, ActionHold, sig.Action)
	assert.Zero(t, sig.Confidence)
}

func TestFingerprintTruncatesHeadlines(t *testing.T) {
	articles := []news.Article{
		{Headline: "Bitcoin ETF inflows hit record highs this week and beyond"},
	}
	fp := Fingerprint("btcusdt", articles)
	assert.Equal(t, "BTCUSDT|Bitcoin ETF inflows hit record", fp)
}

func TestFingerprintCapsBatchSize(t *testing.T) {
	var articles []news.Article
	for i := 0; i < 8; i++ {
		articles = append(articles, news.Article{Headline: string(rune('a' + i))})
	}
	fp := Fingerprint("ANY", articles)
	assert.Equal(t, "ANY|a|b|c|d|e", fp)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Signal
		want Signal
	}{
		{
			name: "lowercase action and percent confidence",
			in:   Signal{Action: "buy", Confidence: 82},
			want: Signal{Action: ActionBuy, Confidence: 0.82, Urgency: UrgencyModerate, RiskLevel: RiskMedium},
		},
		{
			name: "unknown action becomes hold",
			in:   Signal{Action: "LONG", Confidence: 0.9},
			want: Signal{Action: ActionHold, Confidence: 0.9, Urgency: UrgencyModerate, RiskLevel: RiskMedium},
		},
		{
			name: "negative confidence clamped",
			in:   Signal{Action: "SELL", Confidence: -1},
			want: Signal{Action: ActionSell, Confidence: 0, Urgency: UrgencyModerate, RiskLevel: RiskMedium},
		},
		{
			name: "valid enums preserved",
			in:   Signal{Action: "BUY", Confidence: 0.7, Urgency: UrgencyImmediate, RiskLevel: RiskLow},
			want: Signal{Action: ActionBuy, Confidence: 0.7, Urgency: UrgencyImmediate, RiskLevel: RiskLow},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.in
			normalize(&s, nil)
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestNormalizeBackfillsSourceIDs(t *testing.T) {
	s := Signal{Action: "BUY", Confidence: 0.8}
	normalize(&s, batch())
	assert.Equal(t, []string{"a1", "a2"}, s.SourceArticleIDs)
}
