package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mkoehler/epex-archive/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger (
	market_area   TEXT NOT NULL,
	product_type  TEXT NOT NULL,
	trading_date  TEXT NOT NULL,
	delivery_date TEXT NOT NULL,
	sub_segment   TEXT NOT NULL,
	status        TEXT NOT NULL,
	attempt_count INTEGER NOT NULL,
	last_attempt  TEXT NOT NULL,
	last_run_id   TEXT NOT NULL,
	last_error    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (market_area, product_type, delivery_date, sub_segment)
);

CREATE TABLE IF NOT EXISTS archive (
	market_area   TEXT NOT NULL,
	product_type  TEXT NOT NULL,
	trading_date  TEXT NOT NULL,
	delivery_date TEXT NOT NULL,
	sub_segment   TEXT NOT NULL,
	period        TEXT NOT NULL,
	side          TEXT NOT NULL DEFAULT '',
	last_update   TEXT NOT NULL DEFAULT '',
	price         REAL NOT NULL,
	volume        REAL NOT NULL,
	buy_volume    REAL NOT NULL,
	sell_volume   REAL NOT NULL,
	low           REAL,
	high          REAL,
	last          REAL,
	weight_avg    REAL,
	id_full       REAL,
	id1           REAL,
	id3           REAL,
	PRIMARY KEY (market_area, product_type, delivery_date, sub_segment, period, side, price, volume)
);

CREATE TABLE IF NOT EXISTS base_peak (
	market_area   TEXT NOT NULL,
	product_type  TEXT NOT NULL,
	trading_date  TEXT NOT NULL,
	delivery_date TEXT NOT NULL,
	sub_segment   TEXT NOT NULL,
	last_update   TEXT NOT NULL DEFAULT '',
	baseload      REAL NOT NULL,
	peakload      REAL NOT NULL,
	PRIMARY KEY (market_area, product_type, delivery_date, sub_segment)
);
`

// SQLite is the embedded single-file backend.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the database at path and
// bootstraps the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The driver serializes access; a single connection avoids
	// SQLITE_BUSY on concurrent statements.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetEntry implements Ledger.
func (s *SQLite) GetEntry(ctx context.Context, key model.ObservationKey) (model.LedgerEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trading_date, status, attempt_count, last_attempt, last_run_id, last_error
		FROM ledger
		WHERE market_area = ? AND product_type = ? AND delivery_date = ? AND sub_segment = ?`,
		key.MarketArea, string(key.Product), key.DeliveryDate.Format(model.DateFormat), key.SubSegment,
	)

	var (
		tradingDate, status, lastAttempt, lastRunID, lastError string
		attempts                                               int
	)
	err := row.Scan(&tradingDate, &status, &attempts, &lastAttempt, &lastRunID, &lastError)
	if err == sql.ErrNoRows {
		return model.LedgerEntry{}, false, nil
	}
	if err != nil {
		return model.LedgerEntry{}, false, fmt.Errorf("get ledger entry: %w", err)
	}

	entry, err := buildLedgerEntry(key.MarketArea, string(key.Product), tradingDate,
		key.DeliveryDate.Format(model.DateFormat), key.SubSegment,
		status, attempts, lastAttempt, lastRunID, lastError)
	if err != nil {
		return model.LedgerEntry{}, false, err
	}
	return entry, true, nil
}

// UpsertEntry implements Ledger.
func (s *SQLite) UpsertEntry(ctx context.Context, entry model.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (market_area, product_type, trading_date, delivery_date, sub_segment,
			status, attempt_count, last_attempt, last_run_id, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market_area, product_type, delivery_date, sub_segment) DO UPDATE SET
			trading_date  = excluded.trading_date,
			status        = excluded.status,
			attempt_count = excluded.attempt_count,
			last_attempt  = excluded.last_attempt,
			last_run_id   = excluded.last_run_id,
			last_error    = excluded.last_error`,
		entry.Key.MarketArea, string(entry.Key.Product),
		entry.Key.TradingDate.Format(model.DateFormat),
		entry.Key.DeliveryDate.Format(model.DateFormat),
		entry.Key.SubSegment,
		string(entry.Status), entry.AttemptCount,
		entry.LastAttempt.UTC().Format(time.RFC3339Nano),
		entry.LastRunID.String(), entry.LastError,
	)
	if err != nil {
		return fmt.Errorf("upsert ledger entry %s: %w", entry.Key, err)
	}
	return nil
}

// ListEntries implements Ledger.
func (s *SQLite) ListEntries(ctx context.Context, product model.ProductType, from, to time.Time) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_area, product_type, trading_date, delivery_date, sub_segment,
			status, attempt_count, last_attempt, last_run_id, last_error
		FROM ledger
		WHERE product_type = ? AND delivery_date >= ? AND delivery_date <= ?
		ORDER BY market_area, delivery_date, sub_segment`,
		string(product), from.Format(model.DateFormat), to.Format(model.DateFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			area, prod, tradingDate, deliveryDate, sub string
			status, lastAttempt, lastRunID, lastError  string
			attempts                                   int
		)
		if err := rows.Scan(&area, &prod, &tradingDate, &deliveryDate, &sub,
			&status, &attempts, &lastAttempt, &lastRunID, &lastError); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry, err := buildLedgerEntry(area, prod, tradingDate, deliveryDate, sub,
			status, attempts, lastAttempt, lastRunID, lastError)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// ExistingKeys implements Archive.
func (s *SQLite) ExistingKeys(ctx context.Context, area string, product model.ProductType, deliveryDate time.Time) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT delivery_date, sub_segment, period, side, price, volume
		FROM archive
		WHERE market_area = ? AND product_type = ? AND delivery_date = ?`,
		area, string(product), deliveryDate.Format(model.DateFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("scan archive keys: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var (
			date, sub, period, side string
			price, volume           float64
		)
		if err := rows.Scan(&date, &sub, &period, &side, &price, &volume); err != nil {
			return nil, fmt.Errorf("scan archive key: %w", err)
		}
		existing[model.DistinguishingKey(date, sub, period, side, price, volume)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan archive keys: %w", err)
	}
	return existing, nil
}

// InsertRecords implements Archive.
func (s *SQLite) InsertRecords(ctx context.Context, records []model.ArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO archive (market_area, product_type, trading_date, delivery_date,
			sub_segment, period, side, last_update, price, volume, buy_volume, sell_volume,
			low, high, last, weight_avg, id_full, id1, id3)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var low, high, last, weightAvg, idFull, id1, id3 any
		if c := rec.Continuous; c != nil {
			low, high, last, weightAvg = c.Low, c.High, c.Last, c.WeightAvg
			idFull, id1, id3 = c.IDFull, c.ID1, c.ID3
		}
		if _, err := stmt.ExecContext(ctx,
			rec.MarketArea, string(rec.Product),
			rec.TradingDate.Format(model.DateFormat),
			rec.DeliveryDate.Format(model.DateFormat),
			rec.SubSegment, rec.Period, rec.Side, rec.LastUpdate,
			rec.Price, rec.Volume, rec.BuyVolume, rec.SellVolume,
			low, high, last, weightAvg, idFull, id1, id3,
		); err != nil {
			return fmt.Errorf("insert archive record %s: %w", rec.DistinguishingKey(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive insert: %w", err)
	}
	return nil
}

// UpsertBasePeak implements Archive.
func (s *SQLite) UpsertBasePeak(ctx context.Context, rec model.BasePeakRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO base_peak (market_area, product_type, trading_date, delivery_date,
			sub_segment, last_update, baseload, peakload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market_area, product_type, delivery_date, sub_segment) DO UPDATE SET
			trading_date = excluded.trading_date,
			last_update  = excluded.last_update,
			baseload     = excluded.baseload,
			peakload     = excluded.peakload`,
		rec.MarketArea, string(rec.Product),
		rec.TradingDate.Format(model.DateFormat),
		rec.DeliveryDate.Format(model.DateFormat),
		rec.SubSegment, rec.LastUpdate, rec.Baseload, rec.Peakload,
	)
	if err != nil {
		return fmt.Errorf("upsert base/peak: %w", err)
	}
	return nil
}

func buildLedgerEntry(area, product, tradingDate, deliveryDate, sub,
	status string, attempts int, lastAttempt, lastRunID, lastError string) (model.LedgerEntry, error) {

	trading, err := time.Parse(model.DateFormat, tradingDate)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("parse trading date %q: %w", tradingDate, err)
	}
	delivery, err := time.Parse(model.DateFormat, deliveryDate)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("parse delivery date %q: %w", deliveryDate, err)
	}
	attempt, err := time.Parse(time.RFC3339Nano, lastAttempt)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("parse last attempt %q: %w", lastAttempt, err)
	}
	runID, err := uuid.Parse(lastRunID)
	if err != nil {
		runID = uuid.Nil
	}

	return model.LedgerEntry{
		Key: model.ObservationKey{
			MarketArea:   area,
			Product:      model.ProductType(product),
			TradingDate:  trading,
			DeliveryDate: delivery,
			SubSegment:   sub,
		},
		Status:       model.Status(status),
		AttemptCount: attempts,
		LastAttempt:  attempt,
		LastRunID:    runID,
		LastError:    lastError,
	}, nil
}
