package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Delta is the signed contribution of one entry to an account's running
// totals. Reversing a posting is the same delta with every field
// negated, computed from the entry as it was stored.
type Delta struct {
	Balance      decimal.Decimal
	DebitsYTD    decimal.Decimal
	CreditsYTD   decimal.Decimal
	BudgetActual decimal.Decimal
}

// Negate returns the field-wise negation of d.
func (d Delta) Negate() Delta {
	return Delta{
		Balance:      d.Balance.Neg(),
		DebitsYTD:    d.DebitsYTD.Neg(),
		CreditsYTD:   d.CreditsYTD.Neg(),
		BudgetActual: d.BudgetActual.Neg(),
	}
}

// IsZero reports whether d touches nothing.
func (d Delta) IsZero() bool {
	return d.Balance.IsZero() && d.DebitsYTD.IsZero() &&
		d.CreditsYTD.IsZero() && d.BudgetActual.IsZero()
}

// PostingDelta is the single sign-rule function. Both entry types
// increase Balance; this mirrors the ledger's historical behavior and
// any correction must happen here and nowhere else.
//
//	debit:  +balance, +debits_ytd, +budget_actual
//	credit: +balance, +credits_ytd
func PostingDelta(typ EntryType, amount decimal.Decimal) Delta {
	d := Delta{Balance: amount}
	switch typ {
	case Debit:
		d.DebitsYTD = amount
		d.BudgetActual = amount
	case Credit:
		d.CreditsYTD = amount
	}
	return d
}

// ReversalDelta undoes a stored entry's posting.
func ReversalDelta(typ EntryType, amount decimal.Decimal) Delta {
	return PostingDelta(typ, amount).Negate()
}

// BudgetDelta is one adjustment to a budget line, matched by account
// and case-insensitive tag name.
type BudgetDelta struct {
	AccountID string
	Tag       string
	Amount    decimal.Decimal
}

// Negate returns the delta with the amount sign flipped.
func (b BudgetDelta) Negate() BudgetDelta {
	return BudgetDelta{AccountID: b.AccountID, Tag: b.Tag, Amount: b.Amount.Neg()}
}

// BudgetDeltas expands the (debit entries x tags) cross product. Credit
// entries never touch budgets. Exact-duplicate tags are collapsed so a
// tag submitted twice cannot double-count; two tags differing only in
// case remain distinct, matching tag identity.
func BudgetDeltas(entries []Entry, tags []string) []BudgetDelta {
	if len(entries) == 0 || len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	var out []BudgetDelta
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		for _, e := range entries {
			if e.Type != Debit {
				continue
			}
			out = append(out, BudgetDelta{AccountID: e.AccountID, Tag: tag, Amount: e.Amount})
		}
	}
	return out
}
