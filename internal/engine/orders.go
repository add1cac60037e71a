package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polyflash/internal/domain"
	"github.com/alejandrodnm/polyflash/internal/feed"
	"github.com/alejandrodnm/polyflash/internal/obs"
)

const persistTimeout = 3 * time.Second

// placeEntry runs the full order round trip for an admitted detection:
// caps, sign, submit, categorize. Always releases the pending slot.
func (e *Engine) placeEntry(ctx context.Context, d domain.Detection, a domain.RiskAssessment) {
	defer e.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	side := d.Direction()
	limit := priceLimit(d.NewPrice, side, a.MaxSlippage)

	size := a.SizeUSD
	balance, err := e.executor.GetBalance(ctx)
	if err != nil {
		e.rejectEntry(d.TokenID, "failed")
		e.logger.Warn("engine: balance check failed", "token", shortID(d.TokenID), "err", err)
		return
	}
	if maxAffordable := balance - balanceReserveUSD; size > maxAffordable {
		size = maxAffordable
	}

	if liq, lerr := e.executor.GetLiquidity(ctx, d.TokenID, side, limit); lerr != nil {
		e.logger.Warn("engine: liquidity check failed", "token", shortID(d.TokenID), "err", lerr)
	} else if depthCap := liq.AvailableDepthUSD * liquidityFraction; depthCap > 0 && size > depthCap {
		size = depthCap
	}

	if size < minOrderUSD {
		e.rejectEntry(d.TokenID, "skipped")
		e.logger.Info("engine: size below minimum, skipping",
			"token", shortID(d.TokenID), "size", fmt.Sprintf("$%.2f", size))
		return
	}

	negRisk := false
	if nr, nerr := e.executor.IsNegRisk(ctx, d.TokenID); nerr != nil {
		e.logger.Warn("engine: neg-risk lookup failed", "token", shortID(d.TokenID), "err", nerr)
	} else {
		negRisk = nr
	}

	req := domain.OrderRequest{
		TokenID:     d.TokenID,
		ConditionID: d.ConditionID,
		Side:        side,
		SizeUSD:     size,
		PriceLimit:  limit,
		OrderType:   e.orderTypeFor(d.Confidence, a.Strategy),
		NegRisk:     negRisk,
	}

	e.logger.Info("engine: placing order",
		"token", shortID(d.TokenID),
		"side", string(side),
		"size", fmt.Sprintf("$%.2f", size),
		"limit", fmt.Sprintf("%.4f", limit),
		"type", string(req.OrderType),
		"strategy", string(a.Strategy))

	result, err := e.executor.CreateOrder(ctx, req)
	if err != nil {
		e.rejectEntry(d.TokenID, "failed")
		e.logger.Warn("engine: order failed", "token", shortID(d.TokenID), "err", err)
		return
	}

	switch {
	case result.Filled():
		e.openPosition(d, a, req, result)
	case result.MarketClosed:
		e.rejectEntry(d.TokenID, "skipped")
		e.logger.Warn("engine: market closed or resolved, skipping",
			"token", shortID(d.TokenID), "reason", result.Reason)
	default:
		e.rejectEntry(d.TokenID, "failed")
		e.logger.Warn("engine: order rejected",
			"token", shortID(d.TokenID), "reason", result.Reason)
	}
}

// rejectEntry releases the pending slot and records the outcome.
func (e *Engine) rejectEntry(tokenID, outcome string) {
	e.mu.Lock()
	delete(e.pending, tokenID)
	switch outcome {
	case "failed":
		e.stats.Failed++
	case "skipped":
		e.stats.Skipped++
	}
	e.mu.Unlock()
	obs.Orders.WithLabelValues(outcome).Inc()
}

// openPosition registers the fill as a live position and pins the feed
// subscription so sweeps keep seeing fresh prices.
func (e *Engine) openPosition(d domain.Detection, a domain.RiskAssessment, req domain.OrderRequest, result domain.OrderResult) {
	entry := result.PriceFilled
	if entry <= 0 {
		entry = d.NewPrice
	}
	shares := result.SharesFilled
	sizeUSD := entry * shares
	openedAt := result.SubmittedAt
	if openedAt.IsZero() {
		openedAt = time.Now()
	}

	stop, target := exitLevels(entry, req.Side, e.cfg.StopLossPct, e.cfg.TakeProfitPct)

	pos := &domain.Position{
		ID:          uuid.NewString(),
		TokenID:     d.TokenID,
		ConditionID: d.ConditionID,
		Question:    d.Question,
		Direction:   req.Side,
		EntryPrice:  entry,
		Shares:      shares,
		SizeUSD:     sizeUSD,
		StopLoss:    stop,
		TakeProfit:  target,
		Strategy:    a.Strategy,
		OpenedAt:    openedAt,
		LastPrice:   entry,
	}

	e.mu.Lock()
	delete(e.pending, d.TokenID)
	e.positions[d.TokenID] = pos
	e.stats.Executed++
	open := len(e.positions)
	e.mu.Unlock()

	obs.Orders.WithLabelValues("executed").Inc()
	obs.PositionsOpen.Set(float64(open))

	if e.subs != nil {
		if err := e.subs.Subscribe(d.TokenID); err != nil {
			e.logger.Warn("engine: subscribe failed", "token", shortID(d.TokenID), "err", err)
		}
	}

	e.logger.Info("engine: position opened",
		"token", shortID(pos.TokenID),
		"side", string(pos.Direction),
		"entry", fmt.Sprintf("%.4f", entry),
		"shares", fmt.Sprintf("%.2f", shares),
		"stop", fmt.Sprintf("%.4f", stop),
		"target", fmt.Sprintf("%.4f", target),
		"strategy", string(pos.Strategy))

	e.bus.Emit(feed.EventFill, feed.Fill{
		PositionID: pos.ID,
		TokenID:    pos.TokenID,
		Side:       pos.Direction,
		Price:      entry,
		Shares:     shares,
		SizeUSD:    sizeUSD,
		Timestamp:  openedAt,
	})
	e.bus.Emit(feed.EventPositionUpdate, feed.PositionUpdate{Position: *pos})

	e.persistFill(*pos)
}

// ClosePosition liquidates the full remaining size with a partial-fill
// tolerant order and removes the tracked position regardless of the
// reported outcome. Idempotent: a token without a live position is a
// no-op.
func (e *Engine) ClosePosition(ctx context.Context, tokenID, reason string, refPrice float64) (domain.ClosedTrade, bool) {
	e.mu.Lock()
	pos, ok := e.positions[tokenID]
	if !ok {
		e.mu.Unlock()
		return domain.ClosedTrade{}, false
	}
	delete(e.positions, tokenID)
	open := len(e.positions)
	e.mu.Unlock()

	obs.PositionsOpen.Set(float64(open))

	ctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	price := refPrice
	if price <= 0 {
		price = pos.LastPrice
	}
	if price <= 0 {
		price = pos.EntryPrice
	}

	// on-chain balance is ground truth for liquidation size
	shares := pos.Shares
	if bal, err := e.executor.TokenBalance(ctx, tokenID); err != nil {
		e.logger.Warn("engine: token balance lookup failed", "token", shortID(tokenID), "err", err)
	} else if bal > 0 {
		shares = bal
	}

	negRisk := false
	if nr, err := e.executor.IsNegRisk(ctx, tokenID); err == nil {
		negRisk = nr
	}

	side := pos.Direction.Opposite()
	limit := priceLimit(price, side, slippageAggressive)

	e.logger.Info("engine: liquidating position",
		"token", shortID(tokenID),
		"reason", reason,
		"side", string(side),
		"shares", fmt.Sprintf("%.2f", shares),
		"limit", fmt.Sprintf("%.4f", limit))

	exitPrice := price
	result, err := e.executor.CreateOrder(ctx, domain.OrderRequest{
		TokenID:     tokenID,
		ConditionID: pos.ConditionID,
		Side:        side,
		Shares:      shares,
		PriceLimit:  limit,
		OrderType:   domain.OrderFAK,
		NegRisk:     negRisk,
	})
	switch {
	case err != nil:
		e.logger.Warn("engine: liquidation order failed, dropping position anyway",
			"token", shortID(tokenID), "err", err)
	case result.MarketClosed:
		e.logger.Warn("engine: market closed during liquidation",
			"token", shortID(tokenID), "reason", result.Reason)
	case result.PriceFilled > 0:
		exitPrice = result.PriceFilled
	}

	trade := domain.ClosedTrade{
		PositionID:  pos.ID,
		TokenID:     pos.TokenID,
		ConditionID: pos.ConditionID,
		Question:    pos.Question,
		Direction:   pos.Direction,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Shares:      pos.Shares,
		PnLUSD:      pos.UnrealizedPnL(exitPrice),
		ExitReason:  reason,
		Strategy:    pos.Strategy,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    time.Now(),
	}

	e.settle(*pos, trade)
	return trade, true
}

// settle records the realized outcome: kill-switch accounting, metrics,
// events, persistence.
func (e *Engine) settle(pos domain.Position, trade domain.ClosedTrade) {
	e.mu.Lock()
	if trade.PnLUSD < 0 {
		e.kill.RecordLoss(trade.PnLUSD)
	} else {
		e.kill.RecordWin(trade.PnLUSD)
	}
	k := e.kill
	e.mu.Unlock()

	obs.Exits.WithLabelValues(trade.ExitReason).Inc()
	obs.PnL.Set(k.TotalPnL)
	obs.SetKillSwitch(k.Tripped)

	e.logger.Info("engine: position closed",
		"token", shortID(trade.TokenID),
		"reason", trade.ExitReason,
		"pnl", fmt.Sprintf("$%.2f", trade.PnLUSD),
		"held", trade.HoldTime().Round(time.Second))
	if k.Tripped {
		e.logger.Error("engine: kill switch tripped, new entries halted",
			"reason", k.Reason,
			"losses", k.ConsecutiveLosses,
			"pnl", fmt.Sprintf("$%.2f", k.TotalPnL))
	}

	if e.subs != nil {
		if err := e.subs.Unsubscribe(trade.TokenID); err != nil {
			e.logger.Warn("engine: unsubscribe failed", "token", shortID(trade.TokenID), "err", err)
		}
	}

	pos.LastPrice = trade.ExitPrice
	e.bus.Emit(feed.EventPositionUpdate, feed.PositionUpdate{Position: pos, Trade: &trade})

	e.persistClose(trade, k)
}

// persistFill rolls the entry into the daily aggregates. Failures warn,
// never block.
func (e *Engine) persistFill(pos domain.Position) {
	if e.storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	day := domain.DailyStats{
		Date:      pos.OpenedAt,
		Orders:    1,
		Fills:     1,
		VolumeUSD: pos.SizeUSD,
	}
	if err := e.storage.UpsertDaily(ctx, day); err != nil {
		e.logger.Warn("engine: daily stats upsert failed", "err", err)
	}
}

// persistClose stores the round trip, the daily rollup and the
// kill-switch state.
func (e *Engine) persistClose(trade domain.ClosedTrade, k domain.KillSwitch) {
	if e.storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := e.storage.SaveTrade(ctx, trade); err != nil {
		e.logger.Warn("engine: trade save failed", "err", err)
	}

	day := domain.DailyStats{
		Date:        trade.ClosedAt,
		Exits:       1,
		GrossPnLUSD: trade.PnLUSD,
	}
	if trade.PnLUSD >= 0 {
		day.WinCount = 1
	} else {
		day.LossCount = 1
	}
	if err := e.storage.UpsertDaily(ctx, day); err != nil {
		e.logger.Warn("engine: daily stats upsert failed", "err", err)
	}

	if err := e.storage.SaveKillSwitch(ctx, k); err != nil {
		e.logger.Warn("engine: kill switch save failed", "err", err)
	}
}

// persistKillSwitch saves the state alone, used by resets.
func (e *Engine) persistKillSwitch(ctx context.Context, k domain.KillSwitch) {
	if e.storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := e.storage.SaveKillSwitch(ctx, k); err != nil {
		e.logger.Warn("engine: kill switch save failed", "err", err)
	}
}
