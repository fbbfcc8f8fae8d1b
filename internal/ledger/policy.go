package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// BalancePolicy decides what happens when a submitted entry set's debit
// and credit totals differ. The ledger historically posts whatever it
// is given; balance checking lived only in the UI. Keeping the policy
// pluggable lets a deployment tighten that without touching the engine.
type BalancePolicy int

const (
	// PermitUnbalanced posts the entries as-is. Default.
	PermitUnbalanced BalancePolicy = iota
	// WarnUnbalanced posts the entries but reports the imbalance to the
	// caller-supplied warn hook.
	WarnUnbalanced
	// RejectUnbalanced fails the operation with ErrUnbalanced.
	RejectUnbalanced
)

// ParseBalancePolicy maps a config string to a policy.
func ParseBalancePolicy(s string) (BalancePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permit":
		return PermitUnbalanced, nil
	case "warn":
		return WarnUnbalanced, nil
	case "reject":
		return RejectUnbalanced, nil
	default:
		return PermitUnbalanced, fmt.Errorf("unknown balance policy %q", s)
	}
}

func (p BalancePolicy) String() string {
	switch p {
	case WarnUnbalanced:
		return "warn"
	case RejectUnbalanced:
		return "reject"
	default:
		return "permit"
	}
}

// WarnFunc receives the mismatched totals under WarnUnbalanced.
type WarnFunc func(debits, credits decimal.Decimal)

// EntryTotals sums debit and credit amounts over the input entries.
func EntryTotals(entries []EntryInput) (debits, credits decimal.Decimal) {
	for _, e := range entries {
		switch e.Type {
		case Debit:
			debits = debits.Add(e.Amount)
		case Credit:
			credits = credits.Add(e.Amount)
		}
	}
	return debits, credits
}

// Check applies the policy to an input entry set. The warn hook may be
// nil; it receives debit and credit totals when they differ under
// WarnUnbalanced.
func (p BalancePolicy) Check(entries []EntryInput, warn WarnFunc) error {
	debits, credits := EntryTotals(entries)
	if debits.Equal(credits) {
		return nil
	}
	switch p {
	case RejectUnbalanced:
		return ErrUnbalanced
	case WarnUnbalanced:
		if warn != nil {
			warn(debits, credits)
		}
	}
	return nil
}
