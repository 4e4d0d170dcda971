// Package commitment builds the Merkle distribution commitment for a settlement.
//
// Leaf encoding, hashing and ordering are fixed so any party holding the payout
// lines can rebuild the same root:
//
//	leaf  = SHA-256(0x00 || u16be(len(account)) || account || u64be(amountUnits))
//	node  = SHA-256(0x01 || min(left, right) || max(left, right))
//	order = leaves ascending by leaf hash; an odd node is promoted unchanged
//
// account is the raw 32-byte wallet address, or the user ID when there is no
// address. Lines for the same (user, address) are summed into one leaf and
// zero-amount recipients get no leaf.
package commitment

import (
	"github.com/shopspring/decimal"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/payout"
)

// Leaf is one recipient of the distribution with its inclusion proof.
type Leaf struct {
	UserID      string `json:"user_id"`
	Address     string `json:"address,omitempty"`
	AmountUnits int64  `json:"amount_units"`
	LeafHash    Hash   `json:"leaf_hash"`
	Proof       []Hash `json:"proof"`
}

// Commitment is the tamper-evident distribution submitted to the ledger. The
// minor-unit fields are authoritative; Summary is for display only.
type Commitment struct {
	MerkleRoot       Hash    `json:"merkle_root"`
	Leaves           []Leaf  `json:"leaves"`
	PlatformFeeUnits int64   `json:"platform_fee_units"`
	CreatorFeeUnits  int64   `json:"creator_fee_units"`
	Refund           bool    `json:"refund"`
	Summary          Summary `json:"summary"`
}

// TotalUnits sums every leaf amount.
func (c *Commitment) TotalUnits() int64 {
	var total int64
	for _, l := range c.Leaves {
		total += l.AmountUnits
	}
	return total
}

// Pricing converts minor units into USD for the display summary.
type Pricing struct {
	UnitsPerUSD int64
}

// Summary is the human-facing USD view of a commitment.
type Summary struct {
	Currency       string          `json:"currency"`
	Recipients     int             `json:"recipients"`
	PoolTotalUSD   decimal.Decimal `json:"pool_total_usd"`
	TotalPayoutUSD decimal.Decimal `json:"total_payout_usd"`
	PlatformFeeUSD decimal.Decimal `json:"platform_fee_usd"`
	CreatorFeeUSD  decimal.Decimal `json:"creator_fee_usd"`
}

// Build commits to the payout lines of res.
func Build(res *payout.Result, pricing Pricing) (*Commitment, error) {
	const op = "commitment.build"

	if res == nil {
		return nil, apperr.New(apperr.KindValidation, op, "missing payout result")
	}
	if pricing.UnitsPerUSD <= 0 {
		pricing.UnitsPerUSD = 100
	}

	leaves, err := aggregate(res.Lines)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}

	hashes := make([]Hash, len(leaves))
	seen := make(map[Hash]bool, len(leaves))
	for i := range leaves {
		account, err := AccountBytes(leaves[i].UserID, leaves[i].Address)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, op, err)
		}
		h := LeafHash(account, leaves[i].AmountUnits)
		if seen[h] {
			return nil, apperr.New(apperr.KindValidation, op, "duplicate leaf for user %q", leaves[i].UserID)
		}
		seen[h] = true
		leaves[i].LeafHash = h
		hashes[i] = h
	}

	t := newTree(hashes)
	ordered := make([]Leaf, len(leaves))
	for _, l := range leaves {
		idx := t.index(l.LeafHash)
		l.Proof = t.proof(idx)
		ordered[idx] = l
	}

	c := &Commitment{
		MerkleRoot:       t.root(),
		Leaves:           ordered,
		PlatformFeeUnits: res.PlatformFeeUnits,
		CreatorFeeUnits:  res.CreatorFeeUnits,
		Refund:           res.Refund,
	}
	c.Summary = summarize(c, pricing)
	return c, nil
}

// Validate checks every leaf proof against the root without trusting the builder.
func (c *Commitment) Validate() error {
	for _, l := range c.Leaves {
		account, err := AccountBytes(l.UserID, l.Address)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, "commitment.validate", err)
		}
		if LeafHash(account, l.AmountUnits) != l.LeafHash {
			return apperr.New(apperr.KindValidation, "commitment.validate", "leaf for %q does not match its amount", l.UserID)
		}
		if !Verify(l.LeafHash, l.Proof, c.MerkleRoot) {
			return apperr.New(apperr.KindValidation, "commitment.validate", "proof for %q does not reach the root", l.UserID)
		}
	}
	if len(c.Leaves) == 0 && c.MerkleRoot != EmptyRoot {
		return apperr.New(apperr.KindValidation, "commitment.validate", "empty distribution with non-empty root")
	}
	return nil
}

func aggregate(lines []payout.Line) ([]Leaf, error) {
	type key struct{ userID, address string }
	index := make(map[key]int)
	var leaves []Leaf
	for _, l := range lines {
		if l.Payout < 0 {
			return nil, apperr.New(apperr.KindValidation, "commitment.aggregate", "negative payout for entry %q", l.EntryID)
		}
		if l.Payout == 0 {
			continue
		}
		k := key{l.UserID, l.Address}
		if i, ok := index[k]; ok {
			leaves[i].AmountUnits += l.Payout
			continue
		}
		index[k] = len(leaves)
		leaves = append(leaves, Leaf{UserID: l.UserID, Address: l.Address, AmountUnits: l.Payout})
	}
	return leaves, nil
}

func summarize(c *Commitment, pricing Pricing) Summary {
	per := decimal.NewFromInt(pricing.UnitsPerUSD)
	usd := func(units int64) decimal.Decimal {
		return decimal.NewFromInt(units).DivRound(per, 2)
	}
	total := c.TotalUnits()
	return Summary{
		Currency:       "USD",
		Recipients:     len(c.Leaves),
		PoolTotalUSD:   usd(total + c.PlatformFeeUnits + c.CreatorFeeUnits),
		TotalPayoutUSD: usd(total),
		PlatformFeeUSD: usd(c.PlatformFeeUnits),
		CreatorFeeUSD:  usd(c.CreatorFeeUnits),
	}
}
