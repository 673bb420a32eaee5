package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	glyphUp   = "📈"
	glyphDown = "📉"
)

// FormatTrend renders a confirmed trend alert.
func FormatTrend(symbol string, rate float64, grew bool) string {
	glyph := glyphDown
	if grew {
		glyph = glyphUp
	}
	return fmt.Sprintf("%s rate now is %s$ %s", symbol, decimal.NewFromFloat(rate).String(), glyph)
}

// RatesReport is the twice-daily market summary.
type RatesReport struct {
	BTC            decimal.Decimal
	Change24h      decimal.Decimal
	LamboThreshold decimal.Decimal
	BTCDominance   *decimal.Decimal
	ETHDominance   *decimal.Decimal
}

// FormatRates renders the market summary. Dominance lines are omitted when
// unavailable.
func FormatRates(r RatesReport) string {
	var b strings.Builder
	if r.BTC.GreaterThan(r.LamboThreshold) {
		b.WriteString(fmt.Sprintf("Когда ламба? Сегодня! Курс BTC = %s$", r.BTC.StringFixed(2)))
	} else {
		b.WriteString(fmt.Sprintf("Когда ламба? Не сегодня. Курс BTC = %s$", r.BTC.StringFixed(2)))
	}
	sign := ""
	if r.Change24h.IsPositive() {
		sign = "+"
	}
	b.WriteString(fmt.Sprintf(" (%s%s%% за 24ч)", sign, r.Change24h.StringFixed(2)))
	if r.BTCDominance != nil && r.ETHDominance != nil {
		b.WriteString(fmt.Sprintf("\nBTC dominance = %s%%\nETH dominance = %s%%", r.BTCDominance.StringFixed(2), r.ETHDominance.StringFixed(2)))
	}
	return b.String()
}
