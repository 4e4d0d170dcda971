// Package payout computes parimutuel settlement amounts in integer minor units.
//
// Fees are charged on the losing stake only. Every winning entry gets its stake
// back plus a share of what remains of the losing stake after fees, in
// proportion to stake / winningStake. Shares are floored; the indivisible
// remainder goes to the winning entry with the largest stake (ties broken by
// the lexicographically smallest entry ID). When nobody staked the winning
// option the result is a full refund with zero fees.
package payout

import (
	"math"
	"math/big"
	"sort"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
)

// BasisPoints is the denominator for fee rates (10000 = 100%).
const BasisPoints = 10000

// FeeSchedule holds fee rates in basis points of the losing stake.
type FeeSchedule struct {
	PlatformBps int64
	CreatorBps  int64
}

// DefaultFees is 2.5% platform and 1.0% creator.
var DefaultFees = FeeSchedule{PlatformBps: 250, CreatorBps: 100}

// Option is a prediction option with its total stake.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	TotalStaked int64  `json:"total_staked"`
}

// Entry is one stake placed on an option.
type Entry struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Address  string `json:"address,omitempty"`
	OptionID string `json:"option_id"`
	Stake    int64  `json:"stake"`
}

// Pool is the stake state of a prediction at settlement time.
type Pool struct {
	Options   []Option `json:"options"`
	Entries   []Entry  `json:"entries"`
	PoolTotal int64    `json:"pool_total"`
}

// Line is the amount owed to one entry. It is derived, never stored on its own.
type Line struct {
	UserID  string `json:"user_id"`
	EntryID string `json:"entry_id"`
	Address string `json:"address,omitempty"`
	Stake   int64  `json:"stake"`
	Payout  int64  `json:"payout"`
}

// Result is the output of Compute or Refund.
type Result struct {
	PlatformFeeUnits int64  `json:"platform_fee_units"`
	CreatorFeeUnits  int64  `json:"creator_fee_units"`
	WinningStake     int64  `json:"winning_stake"`
	LosingStake      int64  `json:"losing_stake"`
	Refund           bool   `json:"refund"`
	Lines            []Line `json:"lines"`
}

// TotalPayout sums the payout of every line.
func (r *Result) TotalPayout() int64 {
	var total int64
	for _, l := range r.Lines {
		total += l.Payout
	}
	return total
}

// Check verifies payouts plus fees add up to poolTotal exactly.
func (r *Result) Check(poolTotal int64) error {
	const op = "payout.check"

	got, ok := addUnits(r.PlatformFeeUnits, r.CreatorFeeUnits)
	for _, l := range r.Lines {
		if !ok || l.Payout < 0 {
			break
		}
		got, ok = addUnits(got, l.Payout)
	}
	if !ok {
		return apperr.New(apperr.KindInternal, op, "distribution does not fit in int64 units")
	}
	if got != poolTotal {
		return apperr.New(apperr.KindInternal, op, "distribution %d does not match pool total %d", got, poolTotal)
	}
	return nil
}

// Compute distributes the pool to the entries that picked winningOptionID.
func Compute(pool Pool, winningOptionID string, fees FeeSchedule) (*Result, error) {
	const op = "payout.compute"

	if err := validate(pool, fees); err != nil {
		return nil, err
	}

	var winning *Option
	for i := range pool.Options {
		if pool.Options[i].ID == winningOptionID {
			winning = &pool.Options[i]
			break
		}
	}
	if winning == nil {
		return nil, apperr.New(apperr.KindValidation, op, "unknown option %q", winningOptionID)
	}
	if winning.TotalStaked > pool.PoolTotal {
		return nil, apperr.New(apperr.KindValidation, op, "winning option staked %d exceeds pool total %d", winning.TotalStaked, pool.PoolTotal)
	}

	if winning.TotalStaked == 0 {
		return Refund(pool)
	}

	losing := pool.PoolTotal - winning.TotalStaked
	platformFee := feeOf(losing, fees.PlatformBps)
	creatorFee := feeOf(losing, fees.CreatorBps)
	distributable := losing - platformFee - creatorFee

	var winners []Entry
	for _, e := range pool.Entries {
		if e.OptionID == winningOptionID {
			winners = append(winners, e)
		}
	}
	sortEntries(winners)

	lines := make([]Line, len(winners))
	var distributed int64
	largest := 0
	for i, e := range winners {
		share := mulDiv(distributable, e.Stake, winning.TotalStaked)
		distributed += share
		lines[i] = Line{
			UserID:  e.UserID,
			EntryID: e.ID,
			Address: e.Address,
			Stake:   e.Stake,
			Payout:  e.Stake + share,
		}
		if e.Stake > winners[largest].Stake {
			largest = i
		}
	}
	if residue := distributable - distributed; residue > 0 && len(lines) > 0 {
		lines[largest].Payout += residue
	}

	res := &Result{
		PlatformFeeUnits: platformFee,
		CreatorFeeUnits:  creatorFee,
		WinningStake:     winning.TotalStaked,
		LosingStake:      losing,
		Lines:            lines,
	}
	if err := res.Check(pool.PoolTotal); err != nil {
		return nil, err
	}
	return res, nil
}

// Refund returns every entry's stake in full with no fees.
func Refund(pool Pool) (*Result, error) {
	if err := validate(pool, FeeSchedule{}); err != nil {
		return nil, err
	}

	entries := append([]Entry(nil), pool.Entries...)
	sortEntries(entries)

	lines := make([]Line, len(entries))
	for i, e := range entries {
		lines[i] = Line{
			UserID:  e.UserID,
			EntryID: e.ID,
			Address: e.Address,
			Stake:   e.Stake,
			Payout:  e.Stake,
		}
	}

	res := &Result{Refund: true, Lines: lines}
	if err := res.Check(pool.PoolTotal); err != nil {
		return nil, err
	}
	return res, nil
}

func validate(pool Pool, fees FeeSchedule) error {
	const op = "payout.validate"

	if pool.PoolTotal < 0 {
		return apperr.New(apperr.KindValidation, op, "negative pool total %d", pool.PoolTotal)
	}
	if fees.PlatformBps < 0 || fees.CreatorBps < 0 || fees.PlatformBps+fees.CreatorBps > BasisPoints {
		return apperr.New(apperr.KindValidation, op, "invalid fee schedule %d/%d bps", fees.PlatformBps, fees.CreatorBps)
	}

	optionTotals := make(map[string]int64, len(pool.Options))
	var sum int64
	for _, o := range pool.Options {
		if o.TotalStaked < 0 {
			return apperr.New(apperr.KindValidation, op, "option %q has negative stake", o.ID)
		}
		if _, dup := optionTotals[o.ID]; dup {
			return apperr.New(apperr.KindValidation, op, "duplicate option %q", o.ID)
		}
		optionTotals[o.ID] = 0
		var ok bool
		if sum, ok = addUnits(sum, o.TotalStaked); !ok {
			return apperr.New(apperr.KindValidation, op, "option stakes exceed %d units", int64(math.MaxInt64))
		}
	}
	if sum != pool.PoolTotal {
		return apperr.New(apperr.KindValidation, op, "option stakes sum to %d, pool total is %d", sum, pool.PoolTotal)
	}

	for _, e := range pool.Entries {
		if e.Stake < 0 {
			return apperr.New(apperr.KindValidation, op, "entry %q has negative stake", e.ID)
		}
		if _, ok := optionTotals[e.OptionID]; !ok {
			return apperr.New(apperr.KindValidation, op, "entry %q references unknown option %q", e.ID, e.OptionID)
		}
		total, ok := addUnits(optionTotals[e.OptionID], e.Stake)
		if !ok {
			return apperr.New(apperr.KindValidation, op, "entries on option %q exceed %d units", e.OptionID, int64(math.MaxInt64))
		}
		optionTotals[e.OptionID] = total
	}
	for _, o := range pool.Options {
		if optionTotals[o.ID] != o.TotalStaked {
			return apperr.New(apperr.KindValidation, op, "entries on option %q sum to %d, option total is %d", o.ID, optionTotals[o.ID], o.TotalStaked)
		}
	}
	return nil
}

// addUnits adds two non-negative amounts. It reports false when the sum
// does not fit in an int64.
func addUnits(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

// feeOf is amount * bps / 10000 rounded half up.
func feeOf(amount, bps int64) int64 {
	n := new(big.Int).Mul(big.NewInt(amount), big.NewInt(bps))
	n.Add(n, big.NewInt(BasisPoints/2))
	n.Quo(n, big.NewInt(BasisPoints))
	return n.Int64()
}

// mulDiv is floor(a * b / c) without overflowing int64 intermediates.
func mulDiv(a, b, c int64) int64 {
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	n.Quo(n, big.NewInt(c))
	return n.Int64()
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
}
