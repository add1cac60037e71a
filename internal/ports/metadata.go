package ports

import (
	"context"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// MetadataProvider resuelve la metadata de un mercado a partir del token.
type MetadataProvider interface {
	// GetMetadata devuelve question/slug/image y el condition ID del
	// mercado del token. Con cacheFirst=true sirve desde la caché local
	// si existe, sin tocar la red.
	GetMetadata(ctx context.Context, tokenID string, cacheFirst bool) (domain.MarketInfo, error)
}
