package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tallybook.org/internal/ids"
)

// Service defines the transaction lifecycle. Replace and Delete must
// reverse the stored postings (account and budget deltas alike) before
// touching anything else, and every call must be all-or-nothing.
type Service interface {
	Create(ctx context.Context, in TransactionInput) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	List(ctx context.Context, accountID string) ([]Transaction, error)
	Replace(ctx context.Context, id string, in TransactionInput) (Transaction, error)
	Delete(ctx context.Context, id string) error
}

// InMemory implements Service with in-process state. It backs tests
// and the dev server when no database is configured; durable state
// lives in store/pg.
type InMemory struct {
	mu       sync.Mutex
	policy   BalancePolicy
	warn     WarnFunc
	accounts map[string]*Account
	txs      map[string]*memTransaction
	tags     map[string]Tag // exact name -> tag
	budgets  []*Budget
}

type memTransaction struct {
	header  Transaction
	entries []Entry
	tags    []string // exact names, association order
}

// NewInMemory creates an empty ledger with the given balance policy.
func NewInMemory(policy BalancePolicy, warn WarnFunc) *InMemory {
	return &InMemory{
		policy:   policy,
		warn:     warn,
		accounts: make(map[string]*Account),
		txs:      make(map[string]*memTransaction),
		tags:     make(map[string]Tag),
	}
}

// SeedAccount registers an account with zero totals. Account management
// is an external collaborator's job; tests and the dev server seed
// through this.
func (s *InMemory) SeedAccount(name string) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	acc := &Account{ID: ids.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	s.accounts[acc.ID] = acc
	return *acc
}

// SeedBudget registers a budget line for an account.
func (s *InMemory) SeedBudget(accountID, name string, actual decimal.Decimal) (Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return Budget{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	b := &Budget{ID: ids.New(), AccountID: accountID, Name: name, ActualAmount: actual}
	s.budgets = append(s.budgets, b)
	return *b, nil
}

// AccountByID returns a copy of the account's current totals.
func (s *InMemory) AccountByID(id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return *acc, nil
}

// BudgetByID returns a copy of a budget line.
func (s *InMemory) BudgetByID(id string) (Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.budgets {
		if b.ID == id {
			return *b, nil
		}
	}
	return Budget{}, fmt.Errorf("budget not found: %s", id)
}

func (s *InMemory) Create(ctx context.Context, in TransactionInput) (Transaction, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	if err := s.policy.Check(in.Entries, s.warn); err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Everything that can fail is checked before the first mutation so
	// a miss leaves no partial postings behind.
	if err := s.ensureAccountsLocked(in.Entries); err != nil {
		return Transaction{}, err
	}

	now := time.Now().UTC()
	tx := &memTransaction{
		header: Transaction{
			ID:          ids.New(),
			Date:        in.Date,
			Description: in.Description,
			Currency:    in.Currency,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	s.postLocked(tx, in, now)
	s.txs[tx.header.ID] = tx
	return s.hydrateLocked(tx), nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return s.hydrateLocked(tx), nil
}

func (s *InMemory) List(ctx context.Context, accountID string) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		if accountID != "" && !touchesAccount(tx.entries, accountID) {
			continue
		}
		out = append(out, s.hydrateLocked(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Date, out[j].Date
		switch {
		case di == nil && dj != nil:
			return false // undated rows sort last
		case di != nil && dj == nil:
			return true
		case di != nil && dj != nil && !di.Time().Equal(dj.Time()):
			return dj.Before(*di)
		}
		return out[j].CreatedAt.Before(out[i].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Replace(ctx context.Context, id string, in TransactionInput) (Transaction, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	if err := s.policy.Check(in.Entries, s.warn); err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if err := s.ensureAccountsLocked(in.Entries); err != nil {
		return Transaction{}, err
	}

	now := time.Now().UTC()
	s.reverseLocked(tx, now)

	tx.header.Date = in.Date
	tx.header.Description = in.Description
	tx.header.Currency = in.Currency
	tx.header.UpdatedAt = now
	tx.entries = nil
	tx.tags = nil
	s.postLocked(tx, in, now)
	return s.hydrateLocked(tx), nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return ErrNotFound
	}
	s.reverseLocked(tx, time.Now().UTC())
	delete(s.txs, id)
	return nil
}

// postLocked inserts entries, applies their posting deltas, resolves
// tags and applies budget deltas. Mirrors the create path exactly so
// Replace reuses it after reversal.
func (s *InMemory) postLocked(tx *memTransaction, in TransactionInput, now time.Time) {
	for _, e := range in.Entries {
		entry := Entry{
			ID:            ids.New(),
			TransactionID: tx.header.ID,
			AccountID:     e.AccountID,
			Type:          e.Type,
			Amount:        e.Amount,
			CreatedAt:     now,
		}
		tx.entries = append(tx.entries, entry)
		s.applyDeltaLocked(entry.AccountID, PostingDelta(entry.Type, entry.Amount), now)
	}
	for _, name := range in.Tags {
		if _, ok := s.tags[name]; !ok {
			s.tags[name] = Tag{ID: ids.New(), Name: name}
		}
		tx.tags = append(tx.tags, name)
	}
	for _, bd := range BudgetDeltas(tx.entries, tx.tags) {
		s.applyBudgetDeltaLocked(bd)
	}
}

// reverseLocked undoes every stored posting and budget delta of tx,
// computed from the stored entries and tags, not from new input.
func (s *InMemory) reverseLocked(tx *memTransaction, now time.Time) {
	for _, e := range tx.entries {
		s.applyDeltaLocked(e.AccountID, ReversalDelta(e.Type, e.Amount), now)
	}
	for _, bd := range BudgetDeltas(tx.entries, tx.tags) {
		s.applyBudgetDeltaLocked(bd.Negate())
	}
}

func (s *InMemory) ensureAccountsLocked(entries []EntryInput) error {
	for _, e := range entries {
		if _, ok := s.accounts[e.AccountID]; !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, e.AccountID)
		}
	}
	return nil
}

func (s *InMemory) applyDeltaLocked(accountID string, d Delta, now time.Time) {
	acc := s.accounts[accountID]
	acc.Balance = acc.Balance.Add(d.Balance)
	acc.DebitsYTD = acc.DebitsYTD.Add(d.DebitsYTD)
	acc.CreditsYTD = acc.CreditsYTD.Add(d.CreditsYTD)
	acc.BudgetActual = acc.BudgetActual.Add(d.BudgetActual)
	acc.UpdatedAt = now
}

// applyBudgetDeltaLocked adjusts the matching budget line if one
// exists. No matching line is a no-op: budgets cover only a subset of
// account/tag pairs.
func (s *InMemory) applyBudgetDeltaLocked(bd BudgetDelta) {
	for _, b := range s.budgets {
		if b.AccountID == bd.AccountID && strings.EqualFold(b.Name, bd.Tag) {
			b.ActualAmount = b.ActualAmount.Add(bd.Amount)
		}
	}
}

// hydrateLocked assembles the response shape: header, entries with
// account names in creation order, tags sorted by name.
func (s *InMemory) hydrateLocked(tx *memTransaction) Transaction {
	out := tx.header
	out.Entries = make([]Entry, len(tx.entries))
	for i, e := range tx.entries {
		if acc, ok := s.accounts[e.AccountID]; ok {
			e.AccountName = acc.Name
		}
		out.Entries[i] = e
	}
	sort.Slice(out.Entries, func(i, j int) bool {
		a, b := out.Entries[i], out.Entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID // ULIDs keep insertion order within one tick
	})
	out.Tags = append([]string(nil), tx.tags...)
	sort.Strings(out.Tags)
	return out
}

func touchesAccount(entries []Entry, accountID string) bool {
	for _, e := range entries {
		if e.AccountID == accountID {
			return true
		}
	}
	return false
}
