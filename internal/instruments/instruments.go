// Package instruments loads the OMS's instrument/roll-instruction table
// from a YAML file, standing in for the instrument repository the spec
// treats as an external collaborator injected into the OMS core
// (domain.Repository). Grounded on the teacher's config-loading idiom
// (gopkg.in/yaml.v3 over a typed document), generalized to this domain.
package instruments

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

type rollInstructionDoc struct {
	RollOnNextStart bool   `yaml:"roll_on_next_start"`
	From            string `yaml:"from"`
	To              string `yaml:"to"`
	Date            string `yaml:"date"`
	NetPosition     int64  `yaml:"net_position"`
	Offset          string `yaml:"offset"`
}

type instrumentDoc struct {
	Market          string               `yaml:"market"`
	Symbol          string               `yaml:"symbol"`
	Code            string               `yaml:"code"`
	Expiry          string               `yaml:"expiry"`
	TickSize        string               `yaml:"tick_size"`
	Timezone        string               `yaml:"timezone"`
	RollInstruction *rollInstructionDoc  `yaml:"roll_instruction,omitempty"`
}

type configDoc struct {
	Instruments []instrumentDoc `yaml:"instruments"`
}

// Repository is a YAML-backed domain.Repository. Reload re-reads the file
// in place so an operator can edit next month's roll instruction without
// restarting the process.
type Repository struct {
	mu          sync.RWMutex
	path        string
	instruments []domain.Instrument
	rolls       map[string]domain.RollInstruction
}

// Load reads and parses path, returning a ready Repository.
func Load(path string) (*Repository, error) {
	r := &Repository{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the backing YAML file and atomically swaps in the parsed
// instrument set.
func (r *Repository) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("instruments: read %s: %w", r.path, err)
	}

	var doc configDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("instruments: parse %s: %w", r.path, err)
	}

	instrumentList := make([]domain.Instrument, 0, len(doc.Instruments))
	rolls := make(map[string]domain.RollInstruction, len(doc.Instruments))
	for _, d := range doc.Instruments {
		inst := domain.Instrument{Market: d.Market, Symbol: d.Symbol, Code: d.Code}

		if d.Expiry != "" {
			t, err := time.Parse(dateLayout, d.Expiry)
			if err != nil {
				return fmt.Errorf("instruments: %s/%s: parse expiry: %w", d.Market, d.Symbol, err)
			}
			inst.Expiry = t
		}
		if d.TickSize != "" {
			tick, err := decimal.NewFromString(d.TickSize)
			if err != nil {
				return fmt.Errorf("instruments: %s/%s: parse tick_size: %w", d.Market, d.Symbol, err)
			}
			inst.TickSize = tick
		}
		if d.Timezone != "" {
			loc, err := time.LoadLocation(d.Timezone)
			if err != nil {
				return fmt.Errorf("instruments: %s/%s: load timezone %q: %w", d.Market, d.Symbol, d.Timezone, err)
			}
			inst.Timezone = loc
		}
		instrumentList = append(instrumentList, inst)

		if d.RollInstruction == nil {
			continue
		}
		ri := domain.RollInstruction{
			RollOnNextStart: d.RollInstruction.RollOnNextStart,
			From:            d.RollInstruction.From,
			To:              d.RollInstruction.To,
			NetPosition:     d.RollInstruction.NetPosition,
		}
		if d.RollInstruction.Date != "" {
			t, err := time.Parse(dateLayout, d.RollInstruction.Date)
			if err != nil {
				return fmt.Errorf("instruments: %s/%s: parse roll date: %w", d.Market, d.Symbol, err)
			}
			ri.Date = t
		}
		if d.RollInstruction.Offset != "" {
			off, err := decimal.NewFromString(d.RollInstruction.Offset)
			if err != nil {
				return fmt.Errorf("instruments: %s/%s: parse roll offset: %w", d.Market, d.Symbol, err)
			}
			ri.Offset = off
		}
		rolls[d.Symbol] = ri
	}

	r.mu.Lock()
	r.instruments = instrumentList
	r.rolls = rolls
	r.mu.Unlock()
	return nil
}

// All returns every known instrument.
func (r *Repository) All() []domain.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Instrument, len(r.instruments))
	copy(out, r.instruments)
	return out
}

// Find returns the current front-month instrument for (market, symbol).
func (r *Repository) Find(market, symbol string) (domain.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instruments {
		if inst.Market == market && inst.Symbol == symbol {
			return inst, true
		}
	}
	return domain.Instrument{}, false
}

// RollInstructionFor returns the roll instruction attached to symbol, if any.
func (r *Repository) RollInstructionFor(symbol string) (domain.RollInstruction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ri, ok := r.rolls[symbol]
	return ri, ok
}

var _ domain.Repository = (*Repository)(nil)
