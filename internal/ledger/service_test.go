package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*InMemory, Account, Account) {
	t.Helper()
	s := NewInMemory(PermitUnbalanced, nil)
	a := s.SeedAccount("Checking")
	b := s.SeedAccount("Savings")
	return s, a, b
}

func transferInput(a, b Account, amount int64) TransactionInput {
	return TransactionInput{
		Description: "transfer",
		Entries: []EntryInput{
			{AccountID: a.ID, Type: Debit, Amount: decimal.NewFromInt(amount)},
			{AccountID: b.ID, Type: Credit, Amount: decimal.NewFromInt(amount)},
		},
	}
}

func TestCreateBalancedTransfer(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	tx, err := s.Create(ctx, transferInput(a, b, 1500))
	require.NoError(t, err)
	assert.Equal(t, "USD", tx.Currency, "currency defaults when omitted")
	require.Len(t, tx.Entries, 2)
	assert.Equal(t, "Checking", tx.Entries[0].AccountName)
	assert.Equal(t, "Savings", tx.Entries[1].AccountName)

	accA, err := s.AccountByID(a.ID)
	require.NoError(t, err)
	assert.True(t, accA.Balance.Equal(decimal.NewFromInt(1500)))
	assert.True(t, accA.DebitsYTD.Equal(decimal.NewFromInt(1500)))
	assert.True(t, accA.BudgetActual.Equal(decimal.NewFromInt(1500)))
	assert.True(t, accA.CreditsYTD.IsZero())

	accB, err := s.AccountByID(b.ID)
	require.NoError(t, err)
	assert.True(t, accB.Balance.Equal(decimal.NewFromInt(1500)), "credits also increase balance")
	assert.True(t, accB.CreditsYTD.Equal(decimal.NewFromInt(1500)))
	assert.True(t, accB.BudgetActual.IsZero())
}

func TestCreateThenDeleteRestoresEverything(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	budget, err := s.SeedBudget(a.ID, "Rent", decimal.NewFromInt(100))
	require.NoError(t, err)

	in := transferInput(a, b, 500)
	in.Tags = []string{"rent"} // case-insensitive budget match
	tx, err := s.Create(ctx, in)
	require.NoError(t, err)

	got, err := s.BudgetByID(budget.ID)
	require.NoError(t, err)
	assert.True(t, got.ActualAmount.Equal(decimal.NewFromInt(600)))

	require.NoError(t, s.Delete(ctx, tx.ID))

	accA, _ := s.AccountByID(a.ID)
	accB, _ := s.AccountByID(b.ID)
	assert.True(t, accA.Balance.IsZero())
	assert.True(t, accA.DebitsYTD.IsZero())
	assert.True(t, accA.BudgetActual.IsZero())
	assert.True(t, accB.Balance.IsZero())
	assert.True(t, accB.CreditsYTD.IsZero())

	got, err = s.BudgetByID(budget.ID)
	require.NoError(t, err)
	assert.True(t, got.ActualAmount.Equal(decimal.NewFromInt(100)), "budget actual restored after delete")

	_, err = s.Get(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceNetsToReverseThenApply(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	tx, err := s.Create(ctx, transferInput(a, b, 1500))
	require.NoError(t, err)

	replaced, err := s.Replace(ctx, tx.ID, transferInput(a, b, 2000))
	require.NoError(t, err)
	assert.Equal(t, tx.ID, replaced.ID)
	assert.Equal(t, tx.CreatedAt, replaced.CreatedAt)
	require.Len(t, replaced.Entries, 2)
	assert.True(t, replaced.Entries[0].Amount.Equal(decimal.NewFromInt(2000)))

	// +1500 reversed, then +2000 applied: net +2000, not +3500.
	accA, _ := s.AccountByID(a.ID)
	assert.True(t, accA.Balance.Equal(decimal.NewFromInt(2000)))
	assert.True(t, accA.DebitsYTD.Equal(decimal.NewFromInt(2000)))
	accB, _ := s.AccountByID(b.ID)
	assert.True(t, accB.Balance.Equal(decimal.NewFromInt(2000)))
	assert.True(t, accB.CreditsYTD.Equal(decimal.NewFromInt(2000)))
}

func TestReplaceReversesBudgetDeltas(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	budget, err := s.SeedBudget(a.ID, "Rent", decimal.Zero)
	require.NoError(t, err)

	in := transferInput(a, b, 500)
	in.Tags = []string{"Rent"}
	tx, err := s.Create(ctx, in)
	require.NoError(t, err)

	// Drop the tag on edit; the old budget delta must be reversed even
	// though the new state carries none.
	next := transferInput(a, b, 500)
	_, err = s.Replace(ctx, tx.ID, next)
	require.NoError(t, err)

	got, err := s.BudgetByID(budget.ID)
	require.NoError(t, err)
	assert.True(t, got.ActualAmount.IsZero(), "budget reversal on replace must mirror delete")
}

func TestTagAssociationIsIdempotent(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	budget, err := s.SeedBudget(a.ID, "Rent", decimal.Zero)
	require.NoError(t, err)

	in := transferInput(a, b, 300)
	in.Tags = []string{"Rent", "Rent", " Rent"}
	tx, err := s.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rent"}, tx.Tags)

	got, err := s.BudgetByID(budget.ID)
	require.NoError(t, err)
	assert.True(t, got.ActualAmount.Equal(decimal.NewFromInt(300)), "duplicate tags must not double-count")
}

func TestCreateUnknownAccountLeavesNoPartialState(t *testing.T) {
	s, a, _ := newTestLedger(t)
	ctx := context.Background()

	in := TransactionInput{
		Entries: []EntryInput{
			{AccountID: a.ID, Type: Debit, Amount: decimal.NewFromInt(100)},
			{AccountID: "missing", Type: Credit, Amount: decimal.NewFromInt(100)},
		},
	}
	_, err := s.Create(ctx, in)
	require.ErrorIs(t, err, ErrAccountNotFound)

	accA, _ := s.AccountByID(a.ID)
	assert.True(t, accA.Balance.IsZero(), "no partial posting after failed create")

	txs, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestReplaceUnknownAccountLeavesOldStateIntact(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	tx, err := s.Create(ctx, transferInput(a, b, 1000))
	require.NoError(t, err)

	bad := TransactionInput{
		Entries: []EntryInput{
			{AccountID: "missing", Type: Debit, Amount: decimal.NewFromInt(1)},
		},
	}
	_, err = s.Replace(ctx, tx.ID, bad)
	require.ErrorIs(t, err, ErrAccountNotFound)

	accA, _ := s.AccountByID(a.ID)
	assert.True(t, accA.Balance.Equal(decimal.NewFromInt(1000)), "failed replace must not reverse anything")

	got, err := s.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
}

func TestReplaceAndDeleteNotFound(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	_, err := s.Replace(ctx, "nope", transferInput(a, b, 1))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "nope"), ErrNotFound)
}

func TestListFiltersByAccount(t *testing.T) {
	s, a, b := newTestLedger(t)
	c := s.SeedAccount("Credit Card")
	ctx := context.Background()

	first, err := s.Create(ctx, transferInput(a, b, 100))
	require.NoError(t, err)
	second, err := s.Create(ctx, TransactionInput{
		Entries: []EntryInput{
			{AccountID: c.ID, Type: Debit, Amount: decimal.NewFromInt(50)},
		},
	})
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyC, err := s.List(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, onlyC, 1)
	assert.Equal(t, second.ID, onlyC[0].ID)

	onlyA, err := s.List(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, first.ID, onlyA[0].ID)
}

func TestListOrdersByDateDescending(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	older, _ := ParseDate("2025-01-10")
	newer, _ := ParseDate("2025-02-20")

	inOld := transferInput(a, b, 10)
	inOld.Date = &older
	txOld, err := s.Create(ctx, inOld)
	require.NoError(t, err)

	inNew := transferInput(a, b, 20)
	inNew.Date = &newer
	txNew, err := s.Create(ctx, inNew)
	require.NoError(t, err)

	undated, err := s.Create(ctx, transferInput(a, b, 30))
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, txNew.ID, all[0].ID)
	assert.Equal(t, txOld.ID, all[1].ID)
	assert.Equal(t, undated.ID, all[2].ID, "undated transactions sort last")
}

func TestRejectPolicyBlocksUnbalancedCreate(t *testing.T) {
	s := NewInMemory(RejectUnbalanced, nil)
	a := s.SeedAccount("Checking")
	ctx := context.Background()

	_, err := s.Create(ctx, TransactionInput{
		Entries: []EntryInput{
			{AccountID: a.ID, Type: Debit, Amount: decimal.NewFromInt(100)},
		},
	})
	assert.ErrorIs(t, err, ErrUnbalanced)

	acc, _ := s.AccountByID(a.ID)
	assert.True(t, acc.Balance.IsZero())
}

func TestHydrationOrdersTagsByName(t *testing.T) {
	s, a, b := newTestLedger(t)
	ctx := context.Background()

	in := transferInput(a, b, 10)
	in.Tags = []string{"Zeta", "Alpha", "Mid"}
	tx, err := s.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Mid", "Zeta"}, tx.Tags)
}
