// Package persistence records simulation history in SQLite and writes
// resumable state snapshots.
package persistence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/market-sim/internal/engine"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

// DB wraps a SQLite connection holding the history of one or more runs.
type DB struct {
	conn  *sqlx.DB
	runID string
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		resolver TEXT NOT NULL,
		started_at TEXT NOT NULL,
		first_day INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS days (
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		trades INTEGER NOT NULL,
		units_traded INTEGER NOT NULL,
		turnover INTEGER NOT NULL,
		open_orders INTEGER NOT NULL,
		employed INTEGER NOT NULL,
		unemployed INTEGER NOT NULL,
		active_businesses INTEGER NOT NULL,
		bankruptcies INTEGER NOT NULL,
		people_money INTEGER NOT NULL,
		business_money INTEGER NOT NULL,
		treasury INTEGER NOT NULL,
		tax_collected INTEGER NOT NULL,
		dividends_paid INTEGER NOT NULL,
		PRIMARY KEY (run_id, day)
	);

	CREATE TABLE IF NOT EXISTS prices (
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		good INTEGER NOT NULL,
		min INTEGER NOT NULL,
		max INTEGER NOT NULL,
		median INTEGER NOT NULL,
		p25 INTEGER NOT NULL,
		p75 INTEGER NOT NULL,
		avg INTEGER NOT NULL,
		orders INTEGER NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (run_id, day, good)
	);

	CREATE TABLE IF NOT EXISTS businesses (
		run_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		name TEXT NOT NULL,
		owner INTEGER NOT NULL,
		good INTEGER NOT NULL,
		price INTEGER NOT NULL,
		inventory INTEGER NOT NULL,
		staff INTEGER NOT NULL,
		state TEXT NOT NULL,
		money INTEGER NOT NULL,
		created_day INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_day ON events(run_id, day);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run describes one recorded simulation run.
type Run struct {
	ID        string `db:"id" json:"id"`
	Seed      int64  `db:"seed" json:"seed"`
	Resolver  string `db:"resolver" json:"resolver"`
	StartedAt string `db:"started_at" json:"started_at"`
	FirstDay  uint64 `db:"first_day" json:"first_day"`
}

// StartRun registers a new run starting at s and makes it the target of
// later saves. A resumed simulation passes the run ID from its snapshot to
// keep appending to the same run.
func (db *DB) StartRun(s *engine.State, resume string) (string, error) {
	if resume != "" {
		var n int
		if err := db.conn.Get(&n, "SELECT COUNT(*) FROM runs WHERE id = ?", resume); err != nil {
			return "", err
		}
		if n > 0 {
			db.runID = resume
			slog.Info("continuing recorded run", "run", resume, "day", s.Day)
			return resume, nil
		}
	}

	id := uuid.New().String()
	_, err := db.conn.Exec(
		"INSERT INTO runs (id, seed, resolver, started_at, first_day) VALUES (?, ?, ?, ?, ?)",
		id, s.Config.Game.Seed.Get(), s.ResolverName, time.Now().UTC().Format(time.RFC3339), s.Day,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	db.runID = id
	slog.Info("recording new run", "run", id, "day", s.Day)
	return id, nil
}

// RunID is the run that saves are written to.
func (db *DB) RunID() string { return db.runID }

// Runs lists every recorded run, newest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT id, seed, resolver, started_at, first_day FROM runs ORDER BY started_at DESC, id")
	return runs, err
}

// SaveDay records the day just simulated in s: its aggregate figures, the
// price statistics of every good, the current business table and the events
// of that day.
func (db *DB) SaveDay(s *engine.State) error {
	if db.runID == "" {
		return fmt.Errorf("save day: no run started")
	}
	sum := engine.Summarize(s)

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	st := sum.Stats
	_, err = tx.Exec(`INSERT OR REPLACE INTO days
		(run_id, day, trades, units_traded, turnover, open_orders, employed, unemployed,
		 active_businesses, bankruptcies, people_money, business_money, treasury,
		 tax_collected, dividends_paid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		db.runID, sum.Day, st.Trades, st.UnitsTraded, int64(st.Turnover), st.OpenOrders,
		st.Employed, st.Unemployed, st.ActiveBusinesses, st.Bankruptcies,
		int64(st.PeopleMoney), int64(st.BusinessMoney), int64(st.Treasury),
		int64(st.TaxCollected), int64(st.DividendsPaid),
	)
	if err != nil {
		return fmt.Errorf("insert day %d: %w", sum.Day, err)
	}

	for _, p := range sum.Prices {
		_, err := tx.Exec(`INSERT OR REPLACE INTO prices
			(run_id, day, good, min, max, median, p25, p75, avg, orders, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			db.runID, p.Day, int(p.Good), int64(p.Min), int64(p.Max), int64(p.Median),
			int64(p.P25), int64(p.P75), int64(p.Avg), p.Orders, p.Volume,
		)
		if err != nil {
			return fmt.Errorf("insert prices for good %d: %w", p.Good, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM businesses WHERE run_id = ?", db.runID); err != nil {
		return err
	}
	for _, b := range s.Businesses {
		_, err := tx.Exec(`INSERT INTO businesses
			(run_id, id, name, owner, good, price, inventory, staff, state, money, created_day)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			db.runID, uint64(b.ID), b.Name, uint64(b.OwnerID), int(b.Good), int64(b.Price),
			b.Inventory, len(b.Staff), b.State.String(), int64(s.Ledger.Balance(b.Account())), b.CreatedDay,
		)
		if err != nil {
			return fmt.Errorf("insert business %d: %w", b.ID, err)
		}
	}

	for _, e := range s.Events {
		if e.Day != sum.Day {
			continue
		}
		_, err := tx.Exec(
			"INSERT INTO events (run_id, day, category, description) VALUES (?, ?, ?, ?)",
			db.runID, e.Day, e.Category, e.Description,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DayRecord is one stored row of daily figures.
type DayRecord struct {
	Day              uint64      `db:"day" json:"day"`
	Trades           int         `db:"trades" json:"trades"`
	UnitsTraded      int         `db:"units_traded" json:"units_traded"`
	Turnover         money.Money `db:"turnover" json:"turnover"`
	OpenOrders       int         `db:"open_orders" json:"open_orders"`
	Employed         int         `db:"employed" json:"employed"`
	Unemployed       int         `db:"unemployed" json:"unemployed"`
	ActiveBusinesses int         `db:"active_businesses" json:"active_businesses"`
	Bankruptcies     int         `db:"bankruptcies" json:"bankruptcies"`
	PeopleMoney      money.Money `db:"people_money" json:"people_money"`
	BusinessMoney    money.Money `db:"business_money" json:"business_money"`
	Treasury         money.Money `db:"treasury" json:"treasury"`
	TaxCollected     money.Money `db:"tax_collected" json:"tax_collected"`
	DividendsPaid    money.Money `db:"dividends_paid" json:"dividends_paid"`
}

// RecentDays returns up to limit days of the current run, newest first.
func (db *DB) RecentDays(limit int) ([]DayRecord, error) {
	var days []DayRecord
	err := db.conn.Select(&days, `SELECT day, trades, units_traded, turnover, open_orders,
		employed, unemployed, active_businesses, bankruptcies, people_money,
		business_money, treasury, tax_collected, dividends_paid
		FROM days WHERE run_id = ? ORDER BY day DESC LIMIT ?`,
		db.runID, limit,
	)
	return days, err
}

// PriceRecord is one stored row of per-good price statistics.
type PriceRecord struct {
	Day    uint64      `db:"day" json:"day"`
	Good   market.Good `db:"good" json:"good"`
	Min    money.Money `db:"min" json:"min"`
	Max    money.Money `db:"max" json:"max"`
	Median money.Money `db:"median" json:"median"`
	P25    money.Money `db:"p25" json:"p25"`
	P75    money.Money `db:"p75" json:"p75"`
	Avg    money.Money `db:"avg" json:"avg"`
	Orders int         `db:"orders" json:"orders"`
	Volume int         `db:"volume" json:"volume"`
}

// PriceHistory returns up to limit days of statistics for good, oldest first.
func (db *DB) PriceHistory(good market.Good, limit int) ([]PriceRecord, error) {
	var rows []PriceRecord
	err := db.conn.Select(&rows, `SELECT * FROM (
			SELECT day, good, min, max, median, p25, p75, avg, orders, volume
			FROM prices WHERE run_id = ? AND good = ? ORDER BY day DESC LIMIT ?
		) ORDER BY day ASC`,
		db.runID, int(good), limit,
	)
	return rows, err
}

// BusinessRecord is a stored row of the latest business table.
type BusinessRecord struct {
	ID         uint64      `db:"id" json:"id"`
	Name       string      `db:"name" json:"name"`
	Owner      uint64      `db:"owner" json:"owner"`
	Good       market.Good `db:"good" json:"good"`
	Price      money.Money `db:"price" json:"price"`
	Inventory  int         `db:"inventory" json:"inventory"`
	Staff      int         `db:"staff" json:"staff"`
	State      string      `db:"state" json:"state"`
	Money      money.Money `db:"money" json:"money"`
	CreatedDay uint64      `db:"created_day" json:"created_day"`
}

// Businesses returns the business table as of the last save.
func (db *DB) Businesses() ([]BusinessRecord, error) {
	var rows []BusinessRecord
	err := db.conn.Select(&rows, `SELECT id, name, owner, good, price, inventory, staff,
		state, money, created_day FROM businesses WHERE run_id = ? ORDER BY id`, db.runID)
	return rows, err
}

// RecentEvents returns the most recent N events of the current run.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT day, category, description FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		db.runID, limit,
	)
	return events, err
}
