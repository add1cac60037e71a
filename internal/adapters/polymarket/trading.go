package polymarket

// trading.go — Real order execution via Polymarket CLOB API.
//
// Implements ports.OrderExecutor using AuthClient for L1/L2 auth. Entries
// go out as FAK/FOK taker limit orders; liquidations as FAK sells sized to
// on-chain holdings. Prices are snapped to the market tick before signing.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

const (
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfAddress   = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	defaultTickSize = 0.01
)

var (
	balanceOfABI     abi.ABI
	balanceOfERC1155 abi.ABI
)

func init() {
	var err error
	balanceOfABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
	balanceOfERC1155, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf erc1155 abi: " + err.Error())
	}
}

// TradingClient implements ports.OrderExecutor against the live CLOB.
type TradingClient struct {
	auth      *AuthClient
	rpcClient *ethclient.Client

	mu    sync.Mutex
	ticks map[string]float64 // tokenID → tick size del mercado
}

// NewTradingClient creates a TradingClient. rpcURL is used for on-chain balance checks.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("trading: dial rpc: %w", err)
	}
	return &TradingClient{
		auth:      auth,
		rpcClient: rpc,
		ticks:     make(map[string]float64),
	}, nil
}

// SetTickSize records the tick size for a token. Wired to the stream's
// tick_size_change events so later orders sign with the right precision.
func (tc *TradingClient) SetTickSize(tokenID string, tick float64) {
	if tick <= 0 || tokenID == "" {
		return
	}
	tc.mu.Lock()
	tc.ticks[tokenID] = tick
	tc.mu.Unlock()
}

// tickFor devuelve el tick conocido del token. Si nunca lo vimos por el
// stream lo consulta al CLOB una vez y lo cachea; si la consulta falla
// asume el tick estándar 0.01.
func (tc *TradingClient) tickFor(ctx context.Context, tokenID string) float64 {
	tc.mu.Lock()
	tick, ok := tc.ticks[tokenID]
	tc.mu.Unlock()
	if ok {
		return tick
	}

	fetched, err := tc.auth.FetchTickSize(ctx, tokenID)
	if err != nil {
		slog.Warn("trading: tick size lookup failed, assuming default",
			"token", tokenID[:min(8, len(tokenID))]+"...",
			"tick", defaultTickSize,
			"err", err,
		)
		return defaultTickSize
	}

	tc.SetTickSize(tokenID, fetched)
	return fetched
}

// CreateOrder signs and submits a taker limit order to the CLOB.
// Expected rejections (unmatched size, closed market, balance) come back
// inside the OrderResult; the error return is for transport failures.
func (tc *TradingClient) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	submitted := time.Now().UTC()

	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderResult{Err: err, SubmittedAt: submitted}, fmt.Errorf("trading.CreateOrder: creds: %w", err)
	}

	tick := tc.tickFor(ctx, req.TokenID)
	limit := roundToTick(req.PriceLimit, tick)

	side := gomodel.BUY
	shares := req.Shares
	if req.Side == domain.SideSell {
		side = gomodel.SELL
		if shares <= 0 && limit > 0 {
			shares = req.SizeUSD / limit
		}
	}

	signed, err := tc.auth.buildSignedOrder(orderParams{
		TokenID:   req.TokenID,
		Side:      side,
		Price:     limit,
		SizeUSD:   req.SizeUSD,
		Shares:    shares,
		NegRisk:   req.NegRisk,
		Precision: precisionForTick(tick),
	})
	if err != nil {
		return domain.OrderResult{Err: err, SubmittedAt: submitted}, fmt.Errorf("trading.CreateOrder: sign: %w", err)
	}

	orderType := string(req.OrderType)
	if orderType == "" {
		orderType = string(domain.OrderFAK)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          sideString(side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: orderType,
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		// El CLOB devuelve rechazos de matching como client error con el
		// motivo en el body; los clasificamos antes de tratarlos como fallo.
		if closed, reason := classifyOrderError(err.Error()); closed || reason != "" {
			return domain.OrderResult{Reason: reason, MarketClosed: closed, SubmittedAt: submitted}, nil
		}
		return domain.OrderResult{Err: err, SubmittedAt: submitted}, fmt.Errorf("trading.CreateOrder: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		closed, reason := classifyOrderError(resp.ErrorMsg)
		if reason == "" {
			reason = resp.ErrorMsg
		}
		return domain.OrderResult{Reason: reason, MarketClosed: closed, SubmittedAt: submitted}, nil
	}

	filledShares, filledPrice := fillFromAmounts(req.Side, resp.MakingAmount, resp.TakingAmount)
	return domain.OrderResult{
		Success:      true,
		OrderID:      resp.OrderID,
		SharesFilled: filledShares,
		PriceFilled:  filledPrice,
		Reason:       strings.ToLower(resp.Status),
		SubmittedAt:  submitted,
	}, nil
}

// GetLiquidity devuelve la profundidad ejecutable de un lado del book
// dentro del precio límite dado.
func (tc *TradingClient) GetLiquidity(ctx context.Context, tokenID string, side domain.Side, priceLimit float64) (domain.LiquidityMetrics, error) {
	book, err := tc.auth.FetchOrderBook(ctx, tokenID)
	if err != nil {
		return domain.LiquidityMetrics{}, fmt.Errorf("trading.GetLiquidity: %w", err)
	}

	best := book.BestAsk()
	if side == domain.SideSell {
		best = book.BestBid()
	}

	return domain.LiquidityMetrics{
		AvailableDepthUSD: book.DepthForSide(side, priceLimit),
		BestPrice:         best,
	}, nil
}

// GetBalance returns the on-chain USDC.e balance of the funder address.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	callData, err := balanceOfABI.Pack("balanceOf", tc.auth.address)
	if err != nil {
		return 0, fmt.Errorf("get balance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("get balance: rpc call: %w", err)
	}

	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("get balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), new(big.Float).SetFloat64(1e6)).Float64()
	return bal, nil
}

// IsNegRisk queries the CLOB to determine if a token uses the NegRisk adapter.
func (tc *TradingClient) IsNegRisk(ctx context.Context, tokenID string) (bool, error) {
	url := fmt.Sprintf("%s/neg-risk?token_id=%s", tc.auth.clobBase, tokenID)

	var resp clobNegRiskResponse
	if err := tc.auth.get(ctx, tc.auth.clobLimiter, url, &resp); err != nil {
		return false, fmt.Errorf("neg-risk check: %w", err)
	}
	return resp.NegRisk, nil
}

// TokenBalance returns the on-chain ERC-1155 balance for a conditional token.
// Returns shares (not micro-units) — e.g. 13.51 means 13.51 shares.
func (tc *TradingClient) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	tid := new(big.Int)
	if _, ok := tid.SetString(tokenID, 10); !ok {
		tidBytes, err := hex.DecodeString(strings.TrimPrefix(tokenID, "0x"))
		if err != nil {
			return 0, fmt.Errorf("token balance: invalid token ID: %s", tokenID)
		}
		tid.SetBytes(tidBytes)
	}

	callData, err := balanceOfERC1155.Pack("balanceOf", tc.auth.address, tid)
	if err != nil {
		return 0, fmt.Errorf("token balance: pack: %w", err)
	}

	ctf := common.HexToAddress(ctfAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &ctf,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("token balance: call: %w", err)
	}

	vals, err := balanceOfERC1155.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("token balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	shares := new(big.Float).SetInt(raw)
	shares.Quo(shares, big.NewFloat(1e6))
	f, _ := shares.Float64()
	return f, nil
}

// roundToTick ajusta un precio al tick del mercado, acotado a (0, 1).
func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		tick = defaultTickSize
	}
	rounded := math.Round(price/tick) * tick
	if rounded < tick {
		rounded = tick
	}
	if rounded > 1-tick {
		rounded = 1 - tick
	}
	return rounded
}

// precisionForTick convierte un tick (0.01) al multiplicador de precisión (100).
func precisionForTick(tick float64) int64 {
	for _, prec := range []int64{100, 1000, 10000} {
		if math.Abs(1/float64(prec)-tick) < 1e-10 {
			return prec
		}
	}
	return 0 // deja que buildSignedOrder lo infiera del precio
}

// classifyOrderError separa rechazos esperados del CLOB de fallos reales.
func classifyOrderError(msg string) (marketClosed bool, reason string) {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not accepting orders"),
		strings.Contains(lower, "market is closed"),
		strings.Contains(lower, "market resolved"):
		return true, "market closed"
	case strings.Contains(lower, "balance"), strings.Contains(lower, "allowance"):
		return false, "insufficient balance"
	case strings.Contains(lower, "fok order not filled"),
		strings.Contains(lower, "couldn't be fully filled"),
		strings.Contains(lower, "no match"):
		return false, "no liquidity"
	}
	return false, ""
}

// fillFromAmounts convierte los amounts micro de la respuesta en shares y
// precio medio de fill. En compras making=USDC y taking=shares; en ventas
// al revés.
func fillFromAmounts(side domain.Side, making, taking string) (shares, price float64) {
	usdc := parseUSDC(making)
	shares = parseUSDC(taking)
	if side == domain.SideSell {
		usdc, shares = shares, usdc
	}
	if shares > 0 {
		price = usdc / shares
	}
	return shares, price
}

// sideString serializa el side del order-utils al formato del API.
func sideString(side gomodel.Side) string {
	if side == gomodel.SELL {
		return "SELL"
	}
	return "BUY"
}

// parseUSDC converts a micro-USDC string (e.g., "1000000") to USDC float.
func parseUSDC(s string) float64 {
	if s == "" {
		return 0
	}
	n := new(big.Int)
	n.SetString(s, 10)
	f, _ := new(big.Float).SetInt(n).Float64()
	return f / 1_000_000
}
