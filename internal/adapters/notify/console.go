package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyDetection imprime la señal en una línea compacta.
func (c *Console) NotifyDetection(_ context.Context, d domain.Detection) error {
	now := time.Now().Format("15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] FLASH %s %.4f→%.4f (%+.2f%%)",
		now, d.Direction(), d.OldPrice, d.NewPrice, d.Velocity*100)
	if d.VolumeSpike > 0 {
		fmt.Fprintf(&sb, " vol×%.1f", d.VolumeSpike)
	}
	fmt.Fprintf(&sb, " conf %.2f risk %.0f [%s] %s",
		d.Confidence, d.RiskScore, d.Strategy,
		domain.TruncateQuestion(d.Question, d.ConditionID, 44))

	fmt.Fprintln(c.out, sb.String())
	return nil
}

// NotifyTrade imprime el round trip cerrado con su PnL.
func (c *Console) NotifyTrade(_ context.Context, t domain.ClosedTrade) error {
	now := time.Now().Format("15:04:05")

	outcome := "WIN "
	if t.PnLUSD < 0 {
		outcome = "LOSS"
	}
	fmt.Fprintf(c.out, "[%s] %s %+.2f$ %s %.4f→%.4f %.1f sh %s (%s) %s\n",
		now, outcome, t.PnLUSD, t.Direction, t.EntryPrice, t.ExitPrice,
		t.Shares, t.HoldTime().Round(time.Second), t.ExitReason,
		domain.TruncateQuestion(t.Question, t.ConditionID, 40))
	return nil
}

// NotifyPositions imprime las posiciones abiertas y los contadores de
// ejecución, en línea compacta o tabla según el modo configurado.
func (c *Console) NotifyPositions(_ context.Context, positions []domain.Position, stats domain.ExecStats) error {
	now := time.Now().Format("15:04:05")

	if len(positions) == 0 {
		fmt.Fprintf(c.out, "[%s] no open positions | %s\n", now, execLine(stats))
		return nil
	}

	if c.table {
		c.printPositionsTable(now, positions, stats)
	} else {
		c.printPositionsCompact(now, positions, stats)
	}
	return nil
}

// printPositionsCompact imprime lo esencial en una línea.
func (c *Console) printPositionsCompact(now string, positions []domain.Position, stats domain.ExecStats) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d open | %s", now, len(positions), execLine(stats))

	shown := 0
	for _, pos := range positions {
		if shown >= 4 {
			break
		}
		pnl := pos.UnrealizedPnL(pos.LastPrice)
		fmt.Fprintf(&sb, " | %s %.4f→%.4f %+.2f$ %s",
			pos.Direction, pos.EntryPrice, pos.LastPrice, pnl,
			domain.TruncateQuestion(pos.Question, pos.ConditionID, 25))
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

// printPositionsTable imprime la tabla completa de posiciones.
func (c *Console) printPositionsTable(now string, positions []domain.Position, stats domain.ExecStats) {
	fmt.Fprintf(c.out, "\n[%s] %d open positions | %s\n", now, len(positions), execLine(stats))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Dir", "Market", "Entry", "Last", "PnL$", "PnL%", "Age", "Stall", "Strategy")

	nowT := time.Now()
	for i, pos := range positions {
		pnl := pos.UnrealizedPnL(pos.LastPrice)
		notional := pos.SizeUSD
		if notional <= 0 {
			notional = pos.EntryPrice * pos.Shares
		}
		pnlPct := 0.0
		if notional > 0 {
			pnlPct = pnl / notional * 100
		}

		table.Append(
			fmt.Sprintf("%d", i+1),
			string(pos.Direction),
			domain.TruncateQuestion(pos.Question, pos.ConditionID, 38),
			fmt.Sprintf("%.4f", pos.EntryPrice),
			fmt.Sprintf("%.4f", pos.LastPrice),
			fmt.Sprintf("%+.2f", pnl),
			fmt.Sprintf("%+.1f%%", pnlPct),
			pos.Age(nowT).Round(time.Second).String(),
			fmt.Sprintf("%d", pos.StallTicks),
			string(pos.Strategy),
		)
	}

	table.Render()
	fmt.Fprintln(c.out, "  Stall = sweeps sin mejora de precio | PnL a último precio del stream")
}

// PrintSessionReport imprime el informe agregado: días recientes y
// round trips cerrados.
func (c *Console) PrintSessionReport(dailies []domain.DailyStats, trades []domain.ClosedTrade) {
	if len(dailies) == 0 && len(trades) == 0 {
		fmt.Fprintln(c.out, "\n  No trading data yet. Run the trader first.")
		return
	}

	fmt.Fprintf(c.out, "\n========================================================\n")
	fmt.Fprintf(c.out, "  TRADING REPORT\n")
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(dailies) > 0 {
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Date", "Det", "Ord", "Fill", "Exit", "W", "L", "Win%", "PnL", "Vol$")

		for _, d := range dailies {
			tbl.Append(
				d.Date.Format("01-02"),
				fmt.Sprintf("%d", d.Detections),
				fmt.Sprintf("%d", d.Orders),
				fmt.Sprintf("%d", d.Fills),
				fmt.Sprintf("%d", d.Exits),
				fmt.Sprintf("%d", d.WinCount),
				fmt.Sprintf("%d", d.LossCount),
				fmt.Sprintf("%.0f%%", d.WinRate()*100),
				fmt.Sprintf("$%.2f", d.GrossPnLUSD),
				fmt.Sprintf("$%.0f", d.VolumeUSD),
			)
		}
		tbl.Render()
	}

	var totPnL, totVol float64
	wins, losses := 0, 0
	for _, d := range dailies {
		totPnL += d.GrossPnLUSD
		totVol += d.VolumeUSD
		wins += d.WinCount
		losses += d.LossCount
	}

	fmt.Fprintf(c.out, "\n  --- AGGREGATE (%d days) ---\n", len(dailies))
	fmt.Fprintf(c.out, "  Closed trades:   %d (%d W / %d L)\n", wins+losses, wins, losses)
	if wins+losses > 0 {
		fmt.Fprintf(c.out, "  Win rate:        %.1f%%\n", float64(wins)/float64(wins+losses)*100)
		fmt.Fprintf(c.out, "  Avg PnL/trade:   $%.4f\n", totPnL/float64(wins+losses))
	}
	fmt.Fprintf(c.out, "  Gross PnL:       $%.2f\n", totPnL)
	fmt.Fprintf(c.out, "  Volume traded:   $%.2f\n", totVol)

	if len(trades) > 0 {
		show := trades
		if len(show) > 10 {
			show = show[:10]
		}
		fmt.Fprintf(c.out, "\n  --- LAST %d TRADES ---\n", len(show))
		for _, t := range show {
			outcome := "W"
			if t.PnLUSD < 0 {
				outcome = "L"
			}
			fmt.Fprintf(c.out, "  [%s] %s %.4f→%.4f %+.2f$ %-14s %s\n",
				outcome, t.Direction, t.EntryPrice, t.ExitPrice, t.PnLUSD,
				t.ExitReason, domain.TruncateQuestion(t.Question, t.ConditionID, 36))
		}
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

func execLine(s domain.ExecStats) string {
	return fmt.Sprintf("att:%d exec:%d fail:%d skip:%d kill:%d lim:%d",
		s.Attempted, s.Executed, s.Failed, s.Skipped, s.Killed, s.Limited)
}
