package domain

import "github.com/shopspring/decimal"

// DefaultTickSize is used when the instrument repository does not supply a
// per-symbol tick size. A full deployment drives NearestWorseTick from the
// repository; this default only keeps the rounding rule well-defined in
// its absence.
var DefaultTickSize = decimal.NewFromFloat(0.25)

// NearestWorseTick rounds price to the nearest tick in the direction that
// gives the position a smaller buffer: up for a long position, down for a
// short one (see glossary entry "Worse tick").
func NearestWorseTick(price decimal.Decimal, tick decimal.Decimal, isLongPosition bool) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	ratio := price.Div(tick)
	if isLongPosition {
		return ratio.Ceil().Mul(tick)
	}
	return ratio.Floor().Mul(tick)
}

// StopPrice computes the synthesised stop-loss price for an entry fill.
// signedOffset already carries the direction the caller intends (a
// long's stop_loss_offset is typically negative, a short's positive); an
// absolute override, when present, replaces the computation entirely.
func StopPrice(avgPrice decimal.Decimal, signedOffset decimal.Decimal, absolute *decimal.Decimal, isLongPosition bool, tick decimal.Decimal) decimal.Decimal {
	if absolute != nil {
		return *absolute
	}
	return NearestWorseTick(avgPrice.Add(signedOffset), tick, isLongPosition)
}
