package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoehler/epex-archive/internal/config"
	"github.com/mkoehler/epex-archive/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger (
	market_area   TEXT NOT NULL,
	product_type  TEXT NOT NULL,
	trading_date  DATE NOT NULL,
	delivery_date DATE NOT NULL,
	sub_segment   TEXT NOT NULL,
	status        TEXT NOT NULL,
	attempt_count INTEGER NOT NULL,
	last_attempt  TIMESTAMPTZ NOT NULL,
	last_run_id   UUID NOT NULL,
	last_error    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (market_area, product_type, delivery_date, sub_segment)
);

CREATE TABLE IF NOT EXISTS archive (
	market_area   TEXT NOT NULL,
	product_type  TEXT NOT NULL,
	trading_date  DATE NOT NULL,
	delivery_date DATE NOT NULL,
	sub_segment   TEXT NOT NULL,
	period        TEXT NOT NULL,
	side          TEXT NOT NULL DEFAULT '',
	last_update   TEXT NOT NULL DEFAULT '',
	price         DOUBLE PRECISION NOT NULL,
	volume        DOUBLE PRECISION NOT NULL,
	buy_volume    DOUBLE PRECISION NOT NULL,
	sell_volume   DOUBLE PRECISION NOT NULL,
	low           DOUBLE PRECISION,
	high          DOUBLE PRECISION,
	last          DOUBLE PRECISION,
	weight_avg    DOUBLE PRECISION,
	id_full       DOUBLE PRECISION,
	id1           DOUBLE PRECISION,
	id3           DOUBLE PRECISION,
	PRIMARY KEY (market_area, product_type, delivery_date, sub_segment, period, side, price, volume)
);

CREATE TABLE IF NOT EXISTS base_peak (
	market_area   TEXT NOT NULL,
	product_type  TEXT NOT NULL,
	trading_date  DATE NOT NULL,
	delivery_date DATE NOT NULL,
	sub_segment   TEXT NOT NULL,
	last_update   TEXT NOT NULL DEFAULT '',
	baseload      DOUBLE PRECISION NOT NULL,
	peakload      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (market_area, product_type, delivery_date, sub_segment)
);
`

// Postgres is the relational backend for shared deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// OpenPostgres connects a pool, pings it and bootstraps the schema.
func OpenPostgres(ctx context.Context, cfg config.DBConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Ping verifies the connection is healthy.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// GetEntry implements Ledger.
func (p *Postgres) GetEntry(ctx context.Context, key model.ObservationKey) (model.LedgerEntry, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT trading_date, status, attempt_count, last_attempt, last_run_id, last_error
		FROM ledger
		WHERE market_area = $1 AND product_type = $2 AND delivery_date = $3 AND sub_segment = $4`,
		key.MarketArea, string(key.Product), key.DeliveryDate, key.SubSegment,
	)

	var (
		trading     time.Time
		status      string
		attempts    int
		lastAttempt time.Time
		runID       uuid.UUID
		lastError   string
	)
	err := row.Scan(&trading, &status, &attempts, &lastAttempt, &runID, &lastError)
	if err == pgx.ErrNoRows {
		return model.LedgerEntry{}, false, nil
	}
	if err != nil {
		return model.LedgerEntry{}, false, fmt.Errorf("get ledger entry: %w", err)
	}

	entry := model.LedgerEntry{
		Key:          key,
		Status:       model.Status(status),
		AttemptCount: attempts,
		LastAttempt:  lastAttempt,
		LastRunID:    runID,
		LastError:    lastError,
	}
	entry.Key.TradingDate = model.Midnight(trading)
	return entry, true, nil
}

// UpsertEntry implements Ledger.
func (p *Postgres) UpsertEntry(ctx context.Context, entry model.LedgerEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO ledger (market_area, product_type, trading_date, delivery_date, sub_segment,
			status, attempt_count, last_attempt, last_run_id, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market_area, product_type, delivery_date, sub_segment) DO UPDATE SET
			trading_date  = EXCLUDED.trading_date,
			status        = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			last_attempt  = EXCLUDED.last_attempt,
			last_run_id   = EXCLUDED.last_run_id,
			last_error    = EXCLUDED.last_error`,
		entry.Key.MarketArea, string(entry.Key.Product),
		entry.Key.TradingDate, entry.Key.DeliveryDate, entry.Key.SubSegment,
		string(entry.Status), entry.AttemptCount,
		entry.LastAttempt.UTC(), entry.LastRunID, entry.LastError,
	)
	if err != nil {
		return fmt.Errorf("upsert ledger entry %s: %w", entry.Key, err)
	}
	return nil
}

// ListEntries implements Ledger.
func (p *Postgres) ListEntries(ctx context.Context, product model.ProductType, from, to time.Time) ([]model.LedgerEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT market_area, trading_date, delivery_date, sub_segment,
			status, attempt_count, last_attempt, last_run_id, last_error
		FROM ledger
		WHERE product_type = $1 AND delivery_date BETWEEN $2 AND $3
		ORDER BY market_area, delivery_date, sub_segment`,
		string(product), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			area, sub, status, lastError string
			trading, delivery            time.Time
			attempts                     int
			lastAttempt                  time.Time
			runID                        uuid.UUID
		)
		if err := rows.Scan(&area, &trading, &delivery, &sub,
			&status, &attempts, &lastAttempt, &runID, &lastError); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, model.LedgerEntry{
			Key: model.ObservationKey{
				MarketArea:   area,
				Product:      product,
				TradingDate:  model.Midnight(trading),
				DeliveryDate: model.Midnight(delivery),
				SubSegment:   sub,
			},
			Status:       model.Status(status),
			AttemptCount: attempts,
			LastAttempt:  lastAttempt,
			LastRunID:    runID,
			LastError:    lastError,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// ExistingKeys implements Archive.
func (p *Postgres) ExistingKeys(ctx context.Context, area string, product model.ProductType, deliveryDate time.Time) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT delivery_date, sub_segment, period, side, price, volume
		FROM archive
		WHERE market_area = $1 AND product_type = $2 AND delivery_date = $3`,
		area, string(product), deliveryDate,
	)
	if err != nil {
		return nil, fmt.Errorf("scan archive keys: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var (
			date              time.Time
			sub, period, side string
			price, volume     float64
		)
		if err := rows.Scan(&date, &sub, &period, &side, &price, &volume); err != nil {
			return nil, fmt.Errorf("scan archive key: %w", err)
		}
		existing[model.DistinguishingKey(date.Format(model.DateFormat), sub, period, side, price, volume)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan archive keys: %w", err)
	}
	return existing, nil
}

// InsertRecords implements Archive.
func (p *Postgres) InsertRecords(ctx context.Context, records []model.ArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		var low, high, last, weightAvg, idFull, id1, id3 any
		if c := rec.Continuous; c != nil {
			low, high, last, weightAvg = c.Low, c.High, c.Last, c.WeightAvg
			idFull, id1, id3 = c.IDFull, c.ID1, c.ID3
		}
		batch.Queue(`
			INSERT INTO archive (market_area, product_type, trading_date, delivery_date,
				sub_segment, period, side, last_update, price, volume, buy_volume, sell_volume,
				low, high, last, weight_avg, id_full, id1, id3)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT DO NOTHING`,
			rec.MarketArea, string(rec.Product), rec.TradingDate, rec.DeliveryDate,
			rec.SubSegment, rec.Period, rec.Side, rec.LastUpdate,
			rec.Price, rec.Volume, rec.BuyVolume, rec.SellVolume,
			low, high, last, weightAvg, idFull, id1, id3,
		)
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert archive records: %w", err)
	}
	return nil
}

// UpsertBasePeak implements Archive.
func (p *Postgres) UpsertBasePeak(ctx context.Context, rec model.BasePeakRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO base_peak (market_area, product_type, trading_date, delivery_date,
			sub_segment, last_update, baseload, peakload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_area, product_type, delivery_date, sub_segment) DO UPDATE SET
			trading_date = EXCLUDED.trading_date,
			last_update  = EXCLUDED.last_update,
			baseload     = EXCLUDED.baseload,
			peakload     = EXCLUDED.peakload`,
		rec.MarketArea, string(rec.Product), rec.TradingDate, rec.DeliveryDate,
		rec.SubSegment, rec.LastUpdate, rec.Baseload, rec.Peakload,
	)
	if err != nil {
		return fmt.Errorf("upsert base/peak: %w", err)
	}
	return nil
}
