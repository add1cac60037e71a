package storage_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/polyflash/internal/adapters/storage"
	"github.com/alejandrodnm/polyflash/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func makeTrade(posID string, pnl float64, closedAt time.Time) domain.ClosedTrade {
	return domain.ClosedTrade{
		PositionID:  posID,
		TokenID:     "71312345999988887777",
		ConditionID: "0xcond123",
		Question:    "Will the Lakers win the 2026 NBA Finals?",
		Direction:   domain.SideBuy,
		Strategy:    domain.StratBalanced,
		EntryPrice:  0.52,
		ExitPrice:   0.55,
		Shares:      19.2,
		PnLUSD:      pnl,
		ExitReason:  "take profit",
		OpenedAt:    closedAt.Add(-90 * time.Second),
		ClosedAt:    closedAt,
	}
}

func makeDetection(tokenID string, velocity float64, firedAt time.Time) domain.Detection {
	return domain.Detection{
		TokenID:     tokenID,
		ConditionID: "0xcond123",
		Question:    "Will the Lakers win the 2026 NBA Finals?",
		OldPrice:    0.50,
		NewPrice:    0.50 * (1 + velocity),
		Velocity:    velocity,
		Momentum:    0.002,
		Confidence:  0.6,
		RiskScore:   35,
		Strategy:    domain.StrategyMomentum,
		Timestamp:   firedAt,
	}
}

func TestSQLiteStorage_TradesRoundTrip(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, db.SaveTrade(ctx, makeTrade("pos-1", 0.57, base.Add(-2*time.Minute))))
	require.NoError(t, db.SaveTrade(ctx, makeTrade("pos-2", -0.31, base)))
	// Fuera del rango consultado
	require.NoError(t, db.SaveTrade(ctx, makeTrade("pos-old", 1.10, base.Add(-48*time.Hour))))

	trades, err := db.RecentTrades(ctx, base.Add(-time.Hour), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Más reciente primero
	assert.Equal(t, "pos-2", trades[0].PositionID)
	assert.Equal(t, "pos-1", trades[1].PositionID)

	got := trades[1]
	assert.Equal(t, domain.SideBuy, got.Direction)
	assert.Equal(t, domain.StratBalanced, got.Strategy)
	assert.InDelta(t, 0.52, got.EntryPrice, 0.0001)
	assert.InDelta(t, 0.57, got.PnLUSD, 0.0001)
	assert.Equal(t, "take profit", got.ExitReason)
	assert.WithinDuration(t, base.Add(-2*time.Minute), got.ClosedAt, time.Second)
	assert.WithinDuration(t, got.ClosedAt.Add(-90*time.Second), got.OpenedAt, time.Second)
}

func TestSQLiteStorage_SaveTradeIdempotent(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.SaveTrade(ctx, makeTrade("pos-1", 0.57, now)))
	// Reinserción del mismo position_id: la fila original gana
	require.NoError(t, db.SaveTrade(ctx, makeTrade("pos-1", 99.0, now)))

	trades, err := db.RecentTrades(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 0.57, trades[0].PnLUSD, 0.0001)
}

func TestSQLiteStorage_RecentTrades_EmptyRange(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	trades, err := db.RecentTrades(context.Background(),
		time.Now().Add(-time.Hour),
		time.Now(),
	)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestSQLiteStorage_DetectionBurstCollapses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.db")
	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	firedAt := time.Now().UTC().Truncate(time.Minute).Add(10 * time.Second)

	// Tres disparos del mismo token en el mismo minuto
	d := makeDetection("71312345999988887777", 0.08, firedAt)
	require.NoError(t, db.SaveDetection(ctx, d))
	d.Confidence = 0.9
	require.NoError(t, db.SaveDetection(ctx, d))
	d.Confidence = 0.4
	d.NewPrice = 0.57
	require.NoError(t, db.SaveDetection(ctx, d))

	// Una fila, hits=3, confianza pico, precio más reciente
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer raw.Close()

	var (
		count, hits int
		confidence  float64
		newPrice    float64
		direction   string
	)
	require.NoError(t, raw.QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&count))
	require.NoError(t, raw.QueryRow(
		`SELECT hits, confidence, new_price, direction FROM detections`).Scan(
		&hits, &confidence, &newPrice, &direction))

	assert.Equal(t, 1, count)
	assert.Equal(t, 3, hits)
	assert.InDelta(t, 0.9, confidence, 0.0001)
	assert.InDelta(t, 0.57, newPrice, 0.0001)
	assert.Equal(t, "BUY", direction)

	// Cada disparo suma al contador diario, colapsado o no
	dailies, err := db.GetDailies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, dailies, 1)
	assert.Equal(t, 3, dailies[0].Detections)
}

func TestSQLiteStorage_UpsertDailyAccumulates(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	today := time.Now().UTC()

	require.NoError(t, db.UpsertDaily(ctx, domain.DailyStats{
		Date: today, Orders: 1, Fills: 1, VolumeUSD: 25,
	}))
	require.NoError(t, db.UpsertDaily(ctx, domain.DailyStats{
		Date: today, Orders: 1, Fills: 1, VolumeUSD: 25,
	}))
	require.NoError(t, db.UpsertDaily(ctx, domain.DailyStats{
		Date: today, Exits: 1, LossCount: 1, GrossPnLUSD: -2.4,
	}))
	// Día anterior, para comprobar orden y límite
	require.NoError(t, db.UpsertDaily(ctx, domain.DailyStats{
		Date: today.Add(-24 * time.Hour), Orders: 7,
	}))

	dailies, err := db.GetDailies(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dailies, 2)

	// Hoy primero
	got := dailies[0]
	assert.Equal(t, today.Format("2006-01-02"), got.Date.Format("2006-01-02"))
	assert.Equal(t, 2, got.Orders)
	assert.Equal(t, 2, got.Fills)
	assert.Equal(t, 1, got.Exits)
	assert.Equal(t, 1, got.LossCount)
	assert.InDelta(t, 50.0, got.VolumeUSD, 0.0001)
	assert.InDelta(t, -2.4, got.GrossPnLUSD, 0.0001)

	assert.Equal(t, 7, dailies[1].Orders)

	limited, err := db.GetDailies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 2, limited[0].Orders)
}

func TestSQLiteStorage_KillSwitchRoundTrip(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	// Base de datos recién creada: fila sembrada, todo a cero
	fresh, err := db.LoadKillSwitch(ctx)
	require.NoError(t, err)
	assert.Zero(t, fresh.ConsecutiveLosses)
	assert.False(t, fresh.Tripped)
	assert.True(t, fresh.TrippedAt.IsZero())

	trippedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.SaveKillSwitch(ctx, domain.KillSwitch{
		ConsecutiveLosses: 3,
		TotalPnL:          -12.5,
		Tripped:           true,
		TrippedAt:         trippedAt,
		Reason:            "consecutive losses",
	}))

	got, err := db.LoadKillSwitch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ConsecutiveLosses)
	assert.InDelta(t, -12.5, got.TotalPnL, 0.0001)
	assert.True(t, got.Tripped)
	assert.Equal(t, "consecutive losses", got.Reason)
	assert.WithinDuration(t, trippedAt, got.TrippedAt, time.Second)

	// Los límites configurados no se persisten
	assert.Zero(t, got.MaxLosses)
	assert.Zero(t, got.ScoreCeiling)
	assert.False(t, got.Enabled)
}
