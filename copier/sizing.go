package copier

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trade-copier-go/broker"
)

// SizingStrategy selects how a master volume maps to a slave volume.
type SizingStrategy string

const (
	SizingProportional SizingStrategy = "proportional"
	SizingFixed        SizingStrategy = "fixed"
)

// SizingReason tags why sizing declined to produce a volume.
type SizingReason string

const (
	ReasonBelowMinimum       SizingReason = "below_minimum"
	ReasonInsufficientMargin SizingReason = "insufficient_margin"
	ReasonZeroMasterBalance  SizingReason = "zero_master_balance"
)

// SizingError is a recoverable skip: the position stays unmirrored and
// is retried on the next cycle.
type SizingError struct {
	Reason SizingReason
	Detail string
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing: %s: %s", e.Reason, e.Detail)
}

// Sizer converts master position volumes into slave order volumes.
type Sizer struct {
	strategy SizingStrategy
	fixed    decimal.Decimal
}

// NewSizer builds a sizer. For SizingFixed the volume must be positive;
// step/min/max alignment is checked against live constraints via
// ValidateFixed before the loop starts.
func NewSizer(strategy SizingStrategy, fixedVolume decimal.Decimal) (*Sizer, error) {
	switch strategy {
	case SizingProportional:
	case SizingFixed:
		if fixedVolume.Sign() <= 0 {
			return nil, fmt.Errorf("fixed sizing requires a positive volume, got %s", fixedVolume)
		}
	default:
		return nil, fmt.Errorf("unknown sizing strategy %q", strategy)
	}
	return &Sizer{strategy: strategy, fixed: fixedVolume}, nil
}

// Strategy reports the configured strategy.
func (s *Sizer) Strategy() SizingStrategy { return s.strategy }

// ValidateFixed checks the operator-supplied fixed volume against one
// symbol's constraints. Called once at startup per traded symbol; an
// invalid fixed volume rejects the whole run rather than failing at
// replay time.
func (s *Sizer) ValidateFixed(symbol string, cons broker.SymbolConstraints) error {
	if s.strategy != SizingFixed {
		return nil
	}
	if err := cons.ValidateVolume(s.fixed); err != nil {
		return fmt.Errorf("fixed volume invalid for %s: %w", symbol, err)
	}
	return nil
}

// Volume computes the slave order volume for one master position and
// applies the margin guard. The result is a multiple of VolumeStep
// within [MinVolume, MaxVolume], or a *SizingError.
func (s *Sizer) Volume(
	master broker.Position,
	masterState, slaveState broker.AccountState,
	cons broker.SymbolConstraints,
	price decimal.Decimal,
) (decimal.Decimal, error) {
	var volume decimal.Decimal

	switch s.strategy {
	case SizingFixed:
		volume = s.fixed
	default:
		if masterState.Balance.Sign() <= 0 {
			return decimal.Zero, &SizingError{
				Reason: ReasonZeroMasterBalance,
				Detail: fmt.Sprintf("master balance %s", masterState.Balance),
			}
		}
		raw := master.Volume.Mul(slaveState.Balance.Div(masterState.Balance))
		volume = roundToStep(raw, cons.VolumeStep)
		if volume.IsZero() {
			// Never silently trade the minimum when the proportional
			// result rounds to zero.
			return decimal.Zero, &SizingError{
				Reason: ReasonBelowMinimum,
				Detail: fmt.Sprintf("raw volume %s rounds to zero (step %s, min %s)", raw, cons.VolumeStep, cons.MinVolume),
			}
		}
		if cons.MinVolume.Sign() > 0 && volume.LessThan(cons.MinVolume) {
			volume = cons.MinVolume
		}
		if cons.MaxVolume.Sign() > 0 && volume.GreaterThan(cons.MaxVolume) {
			volume = cons.MaxVolume
		}
	}

	return s.marginGuard(volume, cons, slaveState, price)
}

// marginGuard re-checks free margin before every order; on shortfall it
// shrinks the volume to what the margin affords, floored to the step.
func (s *Sizer) marginGuard(
	volume decimal.Decimal,
	cons broker.SymbolConstraints,
	slaveState broker.AccountState,
	price decimal.Decimal,
) (decimal.Decimal, error) {
	perLot := price.Mul(cons.MarginRate)
	required := perLot.Mul(volume)
	if required.LessThanOrEqual(slaveState.FreeMargin) {
		return volume, nil
	}
	if perLot.Sign() <= 0 {
		return decimal.Zero, &SizingError{
			Reason: ReasonInsufficientMargin,
			Detail: fmt.Sprintf("required %s exceeds free margin %s", required, slaveState.FreeMargin),
		}
	}
	affordable := floorToStep(slaveState.FreeMargin.Div(perLot), cons.VolumeStep)
	if affordable.LessThan(cons.MinVolume) || affordable.Sign() <= 0 {
		return decimal.Zero, &SizingError{
			Reason: ReasonInsufficientMargin,
			Detail: fmt.Sprintf("free margin %s affords %s, below min %s", slaveState.FreeMargin, affordable, cons.MinVolume),
		}
	}
	return affordable, nil
}

// roundToStep rounds to the nearest multiple of step, half to even.
func roundToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).RoundBank(0).Mul(step)
}

// floorToStep rounds down to a multiple of step.
func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
