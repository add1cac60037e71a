package ports

import (
	"context"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// Notifier presenta la actividad del bot al usuario.
// En la implementación de consola imprime líneas compactas y tablas.
type Notifier interface {
	// NotifyDetection muestra una señal disparada.
	NotifyDetection(ctx context.Context, d domain.Detection) error

	// NotifyTrade muestra un round trip completado con su PnL.
	NotifyTrade(ctx context.Context, t domain.ClosedTrade) error

	// NotifyPositions muestra las posiciones abiertas y los contadores
	// de ejecución.
	NotifyPositions(ctx context.Context, positions []domain.Position, stats domain.ExecStats) error
}
