package polymarket

// books.go — fetch puntual de orderbooks del CLOB.
//
// El gateway WS entrega books en streaming; este fetch REST se usa en el
// chequeo de liquidez pre-orden, donde queremos el book completo del
// momento y no el último snapshot del stream.

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

const (
	bookPath     = "/book"
	tickSizePath = "/tick-size"
)

// FetchOrderBook obtiene el orderbook actual de un token, con los niveles
// ya ordenados (bids descendente, asks ascendente).
func (c *Client) FetchOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	url := fmt.Sprintf("%s%s?token_id=%s", c.clobBase, bookPath, tokenID)

	var resp bookResponse
	if err := c.get(ctx, c.booksLimiter, url, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("clob.FetchOrderBook: %w", err)
	}

	// Algunas respuestas omiten asset_id; el caller ya sabe el token.
	if resp.AssetID == "" {
		resp.AssetID = tokenID
	}
	return mapBook(resp), nil
}

// FetchTickSize obtiene el tick size mínimo del mercado de un token.
func (c *Client) FetchTickSize(ctx context.Context, tokenID string) (float64, error) {
	url := fmt.Sprintf("%s%s?token_id=%s", c.clobBase, tickSizePath, tokenID)

	var resp tickSizeResponse
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return 0, fmt.Errorf("clob.FetchTickSize: %w", err)
	}

	tick, err := resp.MinimumTickSize.Float64()
	if err != nil || tick <= 0 {
		return 0, fmt.Errorf("clob.FetchTickSize: invalid tick %q", resp.MinimumTickSize.String())
	}
	return tick, nil
}
