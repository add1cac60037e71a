package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// Storage persiste detecciones, trades cerrados y agregados diarios.
// Los fallos de persistencia se degradan a warnings: nunca bloquean el
// pipeline de trading.
type Storage interface {
	// SaveDetection registra una detección disparada.
	SaveDetection(ctx context.Context, d domain.Detection) error

	// SaveTrade registra un round trip completado (entrada + salida).
	SaveTrade(ctx context.Context, t domain.ClosedTrade) error

	// RecentTrades devuelve los trades cerrados en el rango de tiempo dado.
	RecentTrades(ctx context.Context, from, to time.Time) ([]domain.ClosedTrade, error)

	// UpsertDaily acumula los contadores del día.
	UpsertDaily(ctx context.Context, d domain.DailyStats) error

	// GetDailies devuelve los agregados diarios más recientes.
	GetDailies(ctx context.Context, limit int) ([]domain.DailyStats, error)

	// SaveKillSwitch / LoadKillSwitch persisten el estado del kill switch
	// entre reinicios.
	SaveKillSwitch(ctx context.Context, k domain.KillSwitch) error
	LoadKillSwitch(ctx context.Context) (domain.KillSwitch, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
