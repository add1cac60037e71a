package ports

import (
	"context"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// OrderExecutor places and liquidates taker orders on Polymarket CLOB.
// Expected rejections (no liquidity, market closed) come back inside the
// OrderResult; the error return is reserved for transport failures.
type OrderExecutor interface {
	// CreateOrder signs and submits a limit order with the requested
	// time-in-force (FAK, FOK or GTC).
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// GetLiquidity returns the executable depth for a side of the book
	// within the given price limit.
	GetLiquidity(ctx context.Context, tokenID string, side domain.Side, priceLimit float64) (domain.LiquidityMetrics, error)

	// GetBalance returns the available USDC.e balance for the wallet.
	GetBalance(ctx context.Context) (float64, error)

	// TokenBalance returns the on-chain ERC-1155 balance (in shares) for a
	// token. Ground truth for liquidation sizing.
	TokenBalance(ctx context.Context, tokenID string) (float64, error)

	// IsNegRisk reports whether the token's market uses the NegRisk adapter.
	IsNegRisk(ctx context.Context, tokenID string) (bool, error)
}
