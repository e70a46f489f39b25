package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Bot lifecycle states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateCrashed  = "crashed"
)

// Strategy tags. The set is closed; the supervisor rejects anything
// else at creation time.
const (
	StrategyTechnical  = "technical"
	StrategyTickerNews = "ticker_news"
	StrategyAutonomous = "autonomous"
)

// Bot is one registry record: the operator-visible configuration of a
// trading bot. Allocated is the quote-currency budget, not the spend.
type Bot struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy"`
	Allocated float64   `json:"allocated"`
	State     string    `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func ValidStrategy(tag string) bool {
	switch tag {
	case StrategyTechnical, StrategyTickerNews, StrategyAutonomous:
		return true
	}
	return false
}

// BotStore handles bot registry persistence.
type BotStore struct {
	db *sql.DB
}

func NewBotStore(db *sql.DB) *BotStore {
	return &BotStore{db: db}
}

func (s *BotStore) Create(bot *Bot) error {
	if bot.State == "" {
		bot.State = StateStopped
	}
	if !ValidStrategy(bot.Strategy) {
		return fmt.Errorf("unknown strategy %q", bot.Strategy)
	}
	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now

	result, err := s.db.Exec(`
		INSERT INTO bots (name, symbol, strategy, allocated, state, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, bot.Name, bot.Symbol, bot.Strategy, bot.Allocated, bot.State, bot.LastError, bot.CreatedAt, bot.UpdatedAt)
	if err != nil {
		return err
	}

	bot.ID, err = result.LastInsertId()
	return err
}

func (s *BotStore) Update(bot *Bot) error {
	bot.UpdatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		UPDATE bots
		SET name = ?, symbol = ?, strategy = ?, allocated = ?, state = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, bot.Name, bot.Symbol, bot.Strategy, bot.Allocated, bot.State, bot.LastError, bot.UpdatedAt, bot.ID)
	return err
}

func (s *BotStore) UpdateState(id int64, state, lastError string) error {
	_, err := s.db.Exec(`UPDATE bots SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		state, lastError, time.Now().UTC(), id)
	return err
}

func (s *BotStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM bots WHERE id = ?`, id)
	return err
}

func (s *BotStore) Get(id int64) (*Bot, error) {
	row := s.db.QueryRow(`
		SELECT id, name, symbol, strategy, allocated, state, last_error, created_at, updated_at
		FROM bots WHERE id = ?
	`, id)
	return scanBot(row)
}

func (s *BotStore) List() ([]*Bot, error) {
	rows, err := s.db.Query(`
		SELECT id, name, symbol, strategy, allocated, state, last_error, created_at, updated_at
		FROM bots ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*Bot
	for rows.Next() {
		bot, err := scanBotRow(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// TotalAllocated sums the allocation over all bots, running or not.
func (s *BotStore) TotalAllocated() (float64, error) {
	var total float64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(allocated), 0) FROM bots`).Scan(&total)
	return total, err
}

func scanBot(row *sql.Row) (*Bot, error) {
	var bot Bot
	err := row.Scan(&bot.ID, &bot.Name, &bot.Symbol, &bot.Strategy,
		&bot.Allocated, &bot.State, &bot.LastError, &bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func scanBotRow(rows *sql.Rows) (*Bot, error) {
	var bot Bot
	err := rows.Scan(&bot.ID, &bot.Name, &bot.Symbol, &bot.Strategy,
		&bot.Allocated, &bot.State, &bot.LastError, &bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &bot, nil
}
