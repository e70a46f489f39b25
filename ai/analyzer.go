package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spot-autotrader/news"
)

const (
	// AnalysisTTL bounds how long a batch verdict is reused.
	AnalysisTTL = time.Hour

	// maxBatchArticles caps how many headlines go into one LLM call
	// and into the cache fingerprint.
	maxBatchArticles = 5

	headlineFingerprintLen = 30
)

// ChatClient is the LLM surface the analyser consumes; tests provide a
// scripted fake.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

type cachedSignal struct {
	signal   *Signal
	cachedAt time.Time
}

// Analyzer turns article batches into structured signals, memoising
// results per (symbol, batch fingerprint) so an identical batch never
// re-invokes the LLM within the TTL.
type Analyzer struct {
	llm   ChatClient
	ttl   time.Duration
	clock news.Clock
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedSignal
}

func NewAnalyzer(llm ChatClient, clock news.Clock, log zerolog.Logger) *Analyzer {
	if clock == nil {
		clock = news.SystemClock()
	}
	return &Analyzer{
		llm:   llm,
		ttl:   AnalysisTTL,
		clock: clock,
		log:   log.With().Str("component", "analyzer").Logger(),
		cache: make(map[string]cachedSignal),
	}
}

// Fingerprint builds the cache key for a batch: the symbol hint plus
// the first headlines truncated to a fixed prefix. The symbol is part
// of the key so two bots analysing the same batch for different symbols
// do not share a recommended symbol.
func Fingerprint(symbol string, articles []news.Article) string {
	parts := make([]string, 0, maxBatchArticles+1)
	parts = append(parts, strings.ToUpper(symbol))
	for i, a := range articles {
		if i >= maxBatchArticles {
			break
		}
		h := a.Headline
		if len(h) > headlineFingerprintLen {
			h = h[:headlineFingerprintLen]
		}
		parts = append(parts, h)
	}
	return strings.Join(parts, "|")
}

// AnalyzeBatch returns the signal for a batch of articles analysed for
// one symbol ("any" when the caller is symbol-agnostic). Upstream or
// parse failures yield a HOLD signal with zero confidence and are not
// cached, so the next cycle retries.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, symbol string, articles []news.Article) *Signal {
	if len(articles) == 0 {
		return Hold()
	}

	key := Fingerprint(symbol, articles)

	a.mu.Lock()
	if entry, ok := a.cache[key]; ok && a.clock.Now().Sub(entry.cachedAt) <= a.ttl {
		a.mu.Unlock()
		a.log.Debug().Str("symbol", symbol).Msg("analysis cache hit")
		return entry.signal
	}
	a.mu.Unlock()

	signal, err := a.analyze(ctx, symbol, articles)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", symbol).Msg("batch analysis failed, holding")
		return Hold()
	}

	a.mu.Lock()
	a.cache[key] = cachedSignal{signal: signal, cachedAt: a.clock.Now()}
	a.mu.Unlock()

	return signal
}

func (a *Analyzer) analyze(ctx context.Context, symbol string, articles []news.Article) (*Signal, error) {
	if a.llm == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}
	messages := []Message{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: buildBatchPrompt(symbol, articles)},
	}

	response, err := a.llm.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("LLM chat failed: %w", err)
	}

	jsonStr, ok := extractJSON(response)
	if !ok {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var signal Signal
	if err := json.Unmarshal([]byte(jsonStr), &signal); err != nil {
		return nil, fmt.Errorf("failed to parse signal: %w", err)
	}

	normalize(&signal, articles)
	return &signal, nil
}

// normalize clamps and canonicalises LLM output into the closed enums.
func normalize(s *Signal, articles []news.Article) {
	switch Action(strings.ToUpper(string(s.Action))) {
	case ActionBuy:
		s.Action = ActionBuy
	case ActionSell:
		s.Action = ActionSell
	default:
		s.Action = ActionHold
	}

	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		// Some models answer in percent despite instructions.
		if s.Confidence <= 100 {
			s.Confidence /= 100
		} else {
			s.Confidence = 1
		}
	}

	switch s.Urgency {
	case UrgencyImmediate, UrgencyHigh, UrgencyModerate:
	default:
		s.Urgency = UrgencyModerate
	}

	switch s.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		s.RiskLevel = RiskMedium
	}

	if len(s.SourceArticleIDs) == 0 {
		for i, a := range articles {
			if i >= maxBatchArticles {
				break
			}
			s.SourceArticleIDs = append(s.SourceArticleIDs, a.ID)
		}
	}
}

const analysisSystemPrompt = `You are a cryptocurrency news analyst. You receive a batch of recent
headlines and must produce exactly one trading signal as JSON.

Respond with ONLY a valid JSON object:

{
  "signal": "BUY" | "SELL" | "HOLD",
  "confidence": 0.0-1.0,
  "sentiment": "very bullish" | "bullish" | "neutral" | "bearish" | "very bearish",
  "urgency": "immediate" | "high" | "moderate",
  "risk_level": "low" | "medium" | "high",
  "recommended_symbol": "<SYMBOL or empty>",
  "reasoning": "Brief explanation"
}

Rules:
- confidence is how sure you are about the recommended action.
- If the target symbol is "any", pick the single best USDT spot pair the
  news supports and put it in recommended_symbol.
- If the news is stale, mixed, or irrelevant to the target, answer HOLD
  with low confidence.
- urgency reflects how quickly the move is likely to happen.`

func buildBatchPrompt(symbol string, articles []news.Article) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Target symbol: %s\n\n", symbol))
	sb.WriteString("Recent headlines:\n")
	for i, a := range articles {
		if i >= maxBatchArticles {
			break
		}
		sb.WriteString(fmt.Sprintf("%d. [%s] %s (%s)\n", i+1, a.PublishedAt.Format("2006-01-02 15:04 MST"), a.Headline, a.Sentiment))
		if a.Body != "" {
			body := a.Body
			if len(body) > 300 {
				body = body[:300]
			}
			sb.WriteString("   " + body + "\n")
		}
		if len(a.Tickers) > 0 {
			sb.WriteString("   Tickers: " + strings.Join(a.Tickers, ", ") + "\n")
		}
	}
	sb.WriteString("\nAnalyze the batch and answer with the JSON object only.")
	return sb.String()
}
