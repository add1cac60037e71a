package storage

// sqlite.go — persistencia del pipeline de trading.
//
// Estrategia:
//   - `detections`: UNA fila por (token, minuto) con UPSERT. Una ráfaga de
//     señales sobre el mismo token colapsa en una fila que guarda las
//     métricas más recientes y cuenta los disparos — sin inundar el disco.
//   - `trades`: una fila por round trip cerrado (entrada + salida). Es el
//     histórico que alimenta el informe de sesión.
//   - `daily_stats`: contadores acumulados por día UTC. Cada escritura llega
//     como delta (1 orden, 1 fill...) y se suma sobre lo que haya.
//   - `kill_switch`: fila única (id=1) con el estado dinámico, para que un
//     reinicio no resetee las pérdidas acumuladas.
//   - Prune automático al arrancar: detections > 7d, trades > 90d.
//
// Las escrituras llegan de goroutines distintas (detector, engine, monitor);
// SQLite es single-writer, así que la pool se limita a una conexión.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Señales disparadas, agregadas por token y minuto
CREATE TABLE IF NOT EXISTS detections (
    token_id     TEXT    NOT NULL,
    bucket       INTEGER NOT NULL,           -- minuto unix del disparo
    condition_id TEXT    NOT NULL DEFAULT '',
    question     TEXT    NOT NULL DEFAULT '',
    direction    TEXT    NOT NULL,           -- BUY / SELL
    strategy     TEXT    NOT NULL,
    old_price    REAL    NOT NULL DEFAULT 0,
    new_price    REAL    NOT NULL DEFAULT 0,
    velocity     REAL    NOT NULL DEFAULT 0,
    momentum     REAL    NOT NULL DEFAULT 0,
    volume_spike REAL    NOT NULL DEFAULT 0,
    imbalance    REAL    NOT NULL DEFAULT 0,
    confidence   REAL    NOT NULL DEFAULT 0,
    risk_score   REAL    NOT NULL DEFAULT 0,
    hits         INTEGER NOT NULL DEFAULT 1, -- disparos colapsados en la fila
    fired_at     DATETIME NOT NULL,
    PRIMARY KEY (token_id, bucket)
);

-- Un round trip cerrado por fila
CREATE TABLE IF NOT EXISTS trades (
    position_id  TEXT PRIMARY KEY,
    token_id     TEXT NOT NULL,
    condition_id TEXT NOT NULL DEFAULT '',
    question     TEXT NOT NULL DEFAULT '',
    direction    TEXT NOT NULL,
    strategy     TEXT NOT NULL DEFAULT '',
    entry_price  REAL NOT NULL,
    exit_price   REAL NOT NULL,
    shares       REAL NOT NULL,
    pnl_usd      REAL NOT NULL,
    exit_reason  TEXT NOT NULL DEFAULT '',
    opened_at    DATETIME NOT NULL,
    closed_at    DATETIME NOT NULL
);

-- Acumulado por día UTC
CREATE TABLE IF NOT EXISTS daily_stats (
    date          TEXT PRIMARY KEY,          -- YYYY-MM-DD
    detections    INTEGER NOT NULL DEFAULT 0,
    orders        INTEGER NOT NULL DEFAULT 0,
    fills         INTEGER NOT NULL DEFAULT 0,
    exits         INTEGER NOT NULL DEFAULT 0,
    win_count     INTEGER NOT NULL DEFAULT 0,
    loss_count    INTEGER NOT NULL DEFAULT 0,
    gross_pnl_usd REAL    NOT NULL DEFAULT 0,
    volume_usd    REAL    NOT NULL DEFAULT 0
);

-- Estado dinámico del kill switch, fila única
CREATE TABLE IF NOT EXISTS kill_switch (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    consecutive_losses INTEGER NOT NULL DEFAULT 0,
    total_pnl          REAL    NOT NULL DEFAULT 0,
    tripped            INTEGER NOT NULL DEFAULT 0,
    tripped_at         DATETIME,
    reason             TEXT    NOT NULL DEFAULT '',
    updated_at         DATETIME
);
INSERT OR IGNORE INTO kill_switch (id) VALUES (1);

CREATE INDEX IF NOT EXISTS idx_detections_fired ON detections(fired_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_closed    ON trades(closed_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_token     ON trades(token_id);
`

const (
	retentionDetections = 7 * 24 * time.Hour  // detecciones: señal de corto plazo
	retentionTrades     = 90 * 24 * time.Hour // trades: histórico de una temporada
	defaultDailiesLimit = 30
)

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveDetection hace upsert de la señal en su bucket de minuto y suma 1 al
// contador diario, en una sola transacción.
func (s *SQLiteStorage) SaveDetection(ctx context.Context, d domain.Detection) error {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	bucket := ts.UTC().Unix() / 60

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveDetection: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO detections (
		    token_id, bucket, condition_id, question, direction, strategy,
		    old_price, new_price, velocity, momentum, volume_spike,
		    imbalance, confidence, risk_score, hits, fired_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(token_id, bucket) DO UPDATE SET
		    question     = excluded.question,
		    direction    = excluded.direction,
		    strategy     = excluded.strategy,
		    old_price    = excluded.old_price,
		    new_price    = excluded.new_price,
		    velocity     = excluded.velocity,
		    momentum     = excluded.momentum,
		    volume_spike = excluded.volume_spike,
		    imbalance    = excluded.imbalance,
		    confidence   = MAX(confidence, excluded.confidence),
		    risk_score   = excluded.risk_score,
		    hits         = hits + 1,
		    fired_at     = excluded.fired_at`,
		d.TokenID, bucket, d.ConditionID, d.Question, string(d.Direction()),
		d.Strategy, d.OldPrice, d.NewPrice, d.Velocity, d.Momentum,
		d.VolumeSpike, d.Imbalance, d.Confidence, d.RiskScore, fmtTime(ts),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDetection: upsert: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_stats (date, detections) VALUES (?, 1)
		ON CONFLICT(date) DO UPDATE SET detections = detections + 1`,
		dayKey(ts),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDetection: daily bump: %w", err)
	}
	return tx.Commit()
}

// SaveTrade registra un round trip cerrado. Reinsertar el mismo position_id
// es un no-op: la fila original gana.
func (s *SQLiteStorage) SaveTrade(ctx context.Context, t domain.ClosedTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
		    position_id, token_id, condition_id, question, direction,
		    strategy, entry_price, exit_price, shares, pnl_usd,
		    exit_reason, opened_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO NOTHING`,
		t.PositionID, t.TokenID, t.ConditionID, t.Question,
		string(t.Direction), string(t.Strategy), t.EntryPrice, t.ExitPrice,
		t.Shares, t.PnLUSD, t.ExitReason, fmtTime(t.OpenedAt), fmtTime(t.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: %w", err)
	}
	return nil
}

// RecentTrades devuelve los round trips cerrados dentro del rango, el más
// reciente primero.
func (s *SQLiteStorage) RecentTrades(ctx context.Context, from, to time.Time) ([]domain.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, token_id, condition_id, question, direction,
		       strategy, entry_price, exit_price, shares, pnl_usd,
		       exit_reason, opened_at, closed_at
		FROM trades
		WHERE closed_at >= ? AND closed_at <= ?
		ORDER BY closed_at DESC`,
		fmtTime(from), fmtTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentTrades: %w", err)
	}
	defer rows.Close()

	var trades []domain.ClosedTrade
	for rows.Next() {
		var (
			t                  domain.ClosedTrade
			direction, strat   string
			openedAt, closedAt string
		)
		if err := rows.Scan(
			&t.PositionID, &t.TokenID, &t.ConditionID, &t.Question,
			&direction, &strat, &t.EntryPrice, &t.ExitPrice, &t.Shares,
			&t.PnLUSD, &t.ExitReason, &openedAt, &closedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentTrades: scan: %w", err)
		}
		t.Direction = domain.Side(direction)
		t.Strategy = domain.StrategyProfile(strat)
		t.OpenedAt = parseTimeStr(openedAt)
		t.ClosedAt = parseTimeStr(closedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// UpsertDaily suma los deltas recibidos sobre la fila del día.
func (s *SQLiteStorage) UpsertDaily(ctx context.Context, d domain.DailyStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (
		    date, detections, orders, fills, exits,
		    win_count, loss_count, gross_pnl_usd, volume_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		    detections    = detections    + excluded.detections,
		    orders        = orders        + excluded.orders,
		    fills         = fills         + excluded.fills,
		    exits         = exits         + excluded.exits,
		    win_count     = win_count     + excluded.win_count,
		    loss_count    = loss_count    + excluded.loss_count,
		    gross_pnl_usd = gross_pnl_usd + excluded.gross_pnl_usd,
		    volume_usd    = volume_usd    + excluded.volume_usd`,
		dayKey(d.Date), d.Detections, d.Orders, d.Fills, d.Exits,
		d.WinCount, d.LossCount, d.GrossPnLUSD, d.VolumeUSD,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertDaily: %w", err)
	}
	return nil
}

// GetDailies devuelve los agregados diarios más recientes, hoy primero.
func (s *SQLiteStorage) GetDailies(ctx context.Context, limit int) ([]domain.DailyStats, error) {
	if limit <= 0 {
		limit = defaultDailiesLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, detections, orders, fills, exits,
		       win_count, loss_count, gross_pnl_usd, volume_usd
		FROM daily_stats
		ORDER BY date DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.GetDailies: %w", err)
	}
	defer rows.Close()

	var dailies []domain.DailyStats
	for rows.Next() {
		var (
			d       domain.DailyStats
			dateStr string
		)
		if err := rows.Scan(
			&dateStr, &d.Detections, &d.Orders, &d.Fills, &d.Exits,
			&d.WinCount, &d.LossCount, &d.GrossPnLUSD, &d.VolumeUSD,
		); err != nil {
			return nil, fmt.Errorf("storage.GetDailies: scan: %w", err)
		}
		d.Date, _ = time.Parse("2006-01-02", dateStr)
		dailies = append(dailies, d)
	}
	return dailies, rows.Err()
}

// SaveKillSwitch persiste el estado dinámico del kill switch. Los límites
// configurados (ceiling, max losses, drawdown) viven en la config, no aquí.
func (s *SQLiteStorage) SaveKillSwitch(ctx context.Context, k domain.KillSwitch) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE kill_switch SET
		    consecutive_losses = ?,
		    total_pnl          = ?,
		    tripped            = ?,
		    tripped_at         = ?,
		    reason             = ?,
		    updated_at         = ?
		WHERE id = 1`,
		k.ConsecutiveLosses, k.TotalPnL, k.Tripped,
		nullTimeStr(k.TrippedAt), k.Reason, fmtTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveKillSwitch: %w", err)
	}
	return nil
}

// LoadKillSwitch devuelve el estado dinámico guardado. Los campos de
// configuración vuelven a cero: el llamante los rellena con su config.
func (s *SQLiteStorage) LoadKillSwitch(ctx context.Context) (domain.KillSwitch, error) {
	var (
		k         domain.KillSwitch
		trippedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT consecutive_losses, total_pnl, tripped, tripped_at, reason
		FROM kill_switch WHERE id = 1`).Scan(
		&k.ConsecutiveLosses, &k.TotalPnL, &k.Tripped, &trippedAt, &k.Reason,
	)
	if err != nil {
		return domain.KillSwitch{}, fmt.Errorf("storage.LoadKillSwitch: %w", err)
	}
	if trippedAt.Valid {
		k.TrippedAt = parseTimeStr(trippedAt.String)
	}
	return k, nil
}

// Close cierra la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld borra filas fuera de retención. Best-effort: un fallo aquí no
// impide arrancar.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	now := time.Now()
	s.db.ExecContext(ctx,
		`DELETE FROM detections WHERE fired_at < ?`,
		fmtTime(now.Add(-retentionDetections)))
	s.db.ExecContext(ctx,
		`DELETE FROM trades WHERE closed_at < ?`,
		fmtTime(now.Add(-retentionTrades)))
}

// fmtTime serializa en RFC3339 UTC con precisión de segundo. Ancho fijo:
// el orden lexicográfico de la columna coincide con el cronológico.
func fmtTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func nullTimeStr(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func parseTimeStr(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func dayKey(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02")
}
