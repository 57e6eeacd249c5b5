package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is one (market, symbol) contract-month record as produced by
// the instrument repository, an external collaborator per spec section 1.
type Instrument struct {
	Market   string
	Symbol   string
	Code     string // front-month contract code, e.g. "NQZ25"
	Expiry   time.Time
	TickSize decimal.Decimal
	Timezone *time.Location // exchange timezone the roll date is evaluated in
}

// RollInstruction describes when and how a symbol's position should be
// rolled from one contract month to the next. Consulted only at the
// contract-roll routine (spec section 4.6). RollOnNextStart is read as
// loaded; neither the repository nor the roll routine clears it.
type RollInstruction struct {
	RollOnNextStart bool
	From            string
	To              string
	Date            time.Time
	NetPosition     int64
	Offset          decimal.Decimal
}

// Repository is the interface the OMS core consumes from the instrument
// repository (spec section 9: "treat as an interface injected into the OMS
// core; forbid process-global access").
type Repository interface {
	// All returns every known instrument.
	All() []Instrument
	// Find returns the current front-month instrument for (market, symbol).
	Find(market, symbol string) (Instrument, bool)
	// RollInstructionFor returns the roll instruction attached to symbol,
	// if any.
	RollInstructionFor(symbol string) (RollInstruction, bool)
}
