package store

import (
	"database/sql"
	"time"
)

// Exit reason tags recorded on SELL trades.
const (
	ReasonStopLoss     = "SL"
	ReasonTakeProfit   = "TP"
	ReasonMaxHold      = "max_hold"
	ReasonStrategySell = "strategy_sell"
	ReasonEntry        = "entry"
	ReasonAddBuy       = "add_buy"
)

// Trade is one append-only trade log entry.
type Trade struct {
	ID          int64     `json:"id"`
	BotID       int64     `json:"bot_id"`
	Timestamp   time.Time `json:"ts"`
	Side        string    `json:"side"` // BUY or SELL
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	QuoteAmount float64   `json:"quote_amount"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"` // SELL only
	Reason      string    `json:"reason"`
	OrderID     int64     `json:"order_id,omitempty"`
}

// TradeStore handles trade log persistence. The log is append-only:
// there is no update or delete path.
type TradeStore struct {
	db *sql.DB
}

func NewTradeStore(db *sql.DB) *TradeStore {
	return &TradeStore{db: db}
}

func (s *TradeStore) Record(trade *Trade) error {
	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now().UTC()
	}
	result, err := s.db.Exec(`
		INSERT INTO trades (bot_id, timestamp, side, symbol, price, quantity, quote_amount, realized_pnl, reason, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.BotID, trade.Timestamp, trade.Side, trade.Symbol, trade.Price,
		trade.Quantity, trade.QuoteAmount, trade.RealizedPnL, trade.Reason, trade.OrderID)
	if err != nil {
		return err
	}
	trade.ID, _ = result.LastInsertId()
	return nil
}

// ListByBot retrieves trades for a bot, newest first.
func (s *TradeStore) ListByBot(botID int64, limit int) ([]*Trade, error) {
	rows, err := s.db.Query(`
		SELECT id, bot_id, timestamp, side, symbol, price, quantity, quote_amount, realized_pnl, reason, order_id
		FROM trades WHERE bot_id = ?
		ORDER BY timestamp DESC LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.BotID, &t.Timestamp, &t.Side, &t.Symbol, &t.Price,
			&t.Quantity, &t.QuoteAmount, &t.RealizedPnL, &t.Reason, &t.OrderID); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// TotalPnL returns the total realized PnL for a bot.
func (s *TradeStore) TotalPnL(botID int64) (float64, error) {
	var pnl float64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE bot_id = ?
	`, botID).Scan(&pnl)
	return pnl, err
}

// Stats returns trade statistics for a bot.
func (s *TradeStore) Stats(botID int64) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalTrades int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE bot_id = ?`, botID).Scan(&totalTrades); err != nil {
		return nil, err
	}
	stats["total_trades"] = totalTrades

	var totalPnL float64
	s.db.QueryRow(`SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE bot_id = ?`, botID).Scan(&totalPnL)
	stats["total_pnl"] = totalPnL

	var winning, losing int
	s.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE bot_id = ? AND side = 'SELL' AND realized_pnl > 0`, botID).Scan(&winning)
	s.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE bot_id = ? AND side = 'SELL' AND realized_pnl < 0`, botID).Scan(&losing)
	stats["winning_trades"] = winning
	stats["losing_trades"] = losing

	if winning+losing > 0 {
		stats["win_rate"] = float64(winning) / float64(winning+losing) * 100
	} else {
		stats["win_rate"] = 0.0
	}

	return stats, nil
}
