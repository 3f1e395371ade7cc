package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"marketdata/internal/domain/model"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLAdapter keeps the asset registry, the market list and the OHLC history
// in Postgres or SQLite. Queries are written with '?' placeholders and
// rebound for the driver in use.
type SQLAdapter struct {
	db     *sql.DB
	driver string
}

func NewSQLAdapter(driver, dsn string) (*SQLAdapter, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite allows one writer; :memory: databases are per connection
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLAdapter{db: db, driver: driver}, nil
}

// SetPool tunes the postgres connection pool. SQLite keeps its single connection.
func (a *SQLAdapter) SetPool(maxOpen, maxIdle int, maxLifetime time.Duration) {
	if a.driver != DriverPostgres {
		return
	}
	if maxOpen > 0 {
		a.db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		a.db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		a.db.SetConnMaxLifetime(maxLifetime)
	}
}

func (a *SQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *SQLAdapter) Close() error {
	return a.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id VARCHAR(64) PRIMARY KEY,
		kind VARCHAR(16) NOT NULL,
		symbol VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS markets (
		id VARCHAR(64) PRIMARY KEY,
		base_id VARCHAR(64) NOT NULL REFERENCES assets(id),
		quote_id VARCHAR(64) NOT NULL REFERENCES assets(id),
		UNIQUE (base_id, quote_id)
	)`,
	`CREATE TABLE IF NOT EXISTS candles (
		market_id VARCHAR(64) NOT NULL,
		frequency VARCHAR(16) NOT NULL,
		start_ts BIGINT NOT NULL,
		end_ts BIGINT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		ticks INTEGER NOT NULL,
		PRIMARY KEY (market_id, frequency, start_ts)
	)`,
}

func (a *SQLAdapter) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if a.driver == DriverSQLite {
		if _, err := a.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			return fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}
	return nil
}

func (a *SQLAdapter) SeedAssets(ctx context.Context, assets []model.Asset) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		query := a.rebind(`INSERT INTO assets (id, kind, symbol) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, symbol = excluded.symbol`)
		for _, asset := range assets {
			if _, err := tx.ExecContext(ctx, query, asset.ID, asset.Kind.String(), asset.Symbol); err != nil {
				return fmt.Errorf("failed to seed asset %s: %w", asset.ID, err)
			}
		}
		return nil
	})
}

func (a *SQLAdapter) SeedMarkets(ctx context.Context, markets []model.Market) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		query := a.rebind(`INSERT INTO markets (id, base_id, quote_id) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET base_id = excluded.base_id, quote_id = excluded.quote_id`)
		for _, m := range markets {
			if _, err := tx.ExecContext(ctx, query, m.ID, m.Base.ID, m.Quote.ID); err != nil {
				return fmt.Errorf("failed to seed market %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

func (a *SQLAdapter) ResolveAsset(ctx context.Context, id model.AssetID) (*model.Asset, error) {
	row := a.db.QueryRowContext(ctx, a.rebind(`SELECT id, kind, symbol FROM assets WHERE id = ?`), strings.ToLower(id))

	asset, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset %s: %w", id, err)
	}
	return &asset, nil
}

func (a *SQLAdapter) AssetsByKind(ctx context.Context, kind model.AssetKind) ([]model.Asset, error) {
	rows, err := a.db.QueryContext(ctx, a.rebind(`SELECT id, kind, symbol FROM assets WHERE kind = ? ORDER BY id`), kind.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	assets := []model.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

const marketSelect = `SELECT m.id, b.id, b.kind, b.symbol, q.id, q.kind, q.symbol
	FROM markets m
	JOIN assets b ON b.id = m.base_id
	JOIN assets q ON q.id = m.quote_id`

func (a *SQLAdapter) MarketFor(ctx context.Context, baseID, quoteID model.AssetID) (*model.Market, error) {
	row := a.db.QueryRowContext(ctx, a.rebind(marketSelect+` WHERE m.base_id = ? AND m.quote_id = ?`), baseID, quoteID)

	m, err := scanMarket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find market %s/%s: %w", baseID, quoteID, err)
	}
	return &m, nil
}

func (a *SQLAdapter) Markets(ctx context.Context) ([]model.Market, error) {
	rows, err := a.db.QueryContext(ctx, marketSelect+` ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (a *SQLAdapter) SaveCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	return a.inTx(ctx, func(tx *sql.Tx) error {
		query := a.rebind(`INSERT INTO candles (market_id, frequency, start_ts, end_ts, open, high, low, close, ticks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (market_id, frequency, start_ts) DO UPDATE SET
				end_ts = excluded.end_ts, open = excluded.open, high = excluded.high,
				low = excluded.low, close = excluded.close, ticks = excluded.ticks`)
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare candle insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range candles {
			_, err := stmt.ExecContext(ctx, c.MarketID, c.Frequency.String(), c.Start.Unix(), c.End.Unix(),
				c.Open, c.High, c.Low, c.Close, c.Ticks)
			if err != nil {
				return fmt.Errorf("failed to save candle %s@%s: %w", c.MarketID, c.Start, err)
			}
		}
		return nil
	})
}

func (a *SQLAdapter) GetCandles(ctx context.Context, marketID model.MarketID, freq model.OHLCFrequency, from, to time.Time) ([]model.Candle, error) {
	rows, err := a.db.QueryContext(ctx, a.rebind(`SELECT start_ts, end_ts, open, high, low, close, ticks
		FROM candles
		WHERE market_id = ? AND frequency = ? AND start_ts >= ? AND start_ts < ?
		ORDER BY start_ts`), marketID, freq.String(), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	candles := []model.Candle{}
	for rows.Next() {
		var start, end int64
		c := model.Candle{MarketID: marketID, Frequency: freq}
		if err := rows.Scan(&start, &end, &c.Open, &c.High, &c.Low, &c.Close, &c.Ticks); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Start = time.Unix(start, 0).UTC()
		c.End = time.Unix(end, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (a *SQLAdapter) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// rebind rewrites '?' placeholders to the $n form postgres expects.
func (a *SQLAdapter) rebind(query string) string {
	if a.driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(s scanner) (model.Asset, error) {
	var id, kind, symbol string
	if err := s.Scan(&id, &kind, &symbol); err != nil {
		return model.Asset{}, err
	}
	k, err := model.ParseAssetKind(kind)
	if err != nil {
		return model.Asset{}, err
	}
	return model.Asset{Kind: k, ID: id, Symbol: symbol}, nil
}

func scanMarket(s scanner) (model.Market, error) {
	var id, baseID, baseKind, baseSymbol, quoteID, quoteKind, quoteSymbol string
	if err := s.Scan(&id, &baseID, &baseKind, &baseSymbol, &quoteID, &quoteKind, &quoteSymbol); err != nil {
		return model.Market{}, err
	}

	bk, err := model.ParseAssetKind(baseKind)
	if err != nil {
		return model.Market{}, err
	}
	qk, err := model.ParseAssetKind(quoteKind)
	if err != nil {
		return model.Market{}, err
	}

	base := model.Asset{Kind: bk, ID: baseID, Symbol: baseSymbol}
	quote := model.Asset{Kind: qk, ID: quoteID, Symbol: quoteSymbol}
	return model.NewMarket(id, base, quote, nil), nil
}
