package ai

// Action is the trade direction a signal recommends.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Urgency grades how quickly a signal should be acted on.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyHigh      Urgency = "high"
	UrgencyModerate  Urgency = "moderate"
)

// RiskLevel grades the risk the signal carries.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Sentiment is the aggregate market mood behind a signal.
type Sentiment string

const (
	SentimentVeryBullish Sentiment = "very bullish"
	SentimentBullish     Sentiment = "bullish"
	SentimentNeutral     Sentiment = "neutral"
	SentimentBearish     Sentiment = "bearish"
	SentimentVeryBearish Sentiment = "very bearish"
)

// Signal is the structured outcome of analysing a batch of articles (or
// a technical evaluation) for one symbol, or "any" for symbol-agnostic
// strategies.
type Signal struct {
	Action            Action    `json:"signal"`
	Confidence        float64   `json:"confidence"` // 0..1
	Sentiment         Sentiment `json:"sentiment,omitempty"`
	Urgency           Urgency   `json:"urgency,omitempty"`
	RiskLevel         RiskLevel `json:"risk_level,omitempty"`
	RecommendedSymbol string    `json:"recommended_symbol,omitempty"`
	Reasoning         string    `json:"reasoning,omitempty"`
	SourceArticleIDs  []string  `json:"source_article_ids,omitempty"`

	// Optional overrides suggested by technical strategies. Zero means
	// use the bot defaults.
	StopLossPct   float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64 `json:"take_profit_pct,omitempty"`
	SizeFraction  float64 `json:"size_fraction,omitempty"`
}

// Hold returns the neutral do-nothing signal used on analyser failure.
func Hold() *Signal {
	return &Signal{Action: ActionHold, Confidence: 0}
}
