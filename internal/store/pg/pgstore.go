// Package pg implements the transaction lifecycle against Postgres.
// Every Create/Replace/Delete runs in a single database transaction:
// header, entries, account postings, tag links and budget deltas either
// all commit or all roll back, and touched account rows are locked in
// sorted id order so concurrent postings serialize without deadlocks.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tallybook.org/internal/ids"
	"tallybook.org/internal/ledger"
)

type Store struct {
	db     *sql.DB
	policy ledger.BalancePolicy
	warn   ledger.WarnFunc
}

var _ ledger.Service = (*Store)(nil)

// Open connects to Postgres with pool defaults tuned for a small API
// fleet; adjust under load tests.
func Open(dsn string, policy ledger.BalancePolicy, warn ledger.WarnFunc) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, policy, warn), nil
}

// New wraps an existing handle; used by tests with sqlmock.
func New(db *sql.DB, policy ledger.BalancePolicy, warn ledger.WarnFunc) *Store {
	return &Store{db: db, policy: policy, warn: warn}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// querier is satisfied by both *sql.DB and *sql.Tx so hydration can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Create(ctx context.Context, in ledger.TransactionInput) (ledger.Transaction, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.policy.Check(in.Entries, s.warn); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id := ids.New()
	if _, err := tx.ExecContext(ctx, `
		insert into transactions(id, date, description, currency)
		values ($1, $2, $3, $4)
	`, id, dateArg(in.Date), in.Description, in.Currency); err != nil {
		return ledger.Transaction{}, err
	}

	if err := lockAccounts(ctx, tx, entryAccountIDs(in.Entries)); err != nil {
		return ledger.Transaction{}, err
	}
	entries, err := insertAndPost(ctx, tx, id, in.Entries)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := linkTags(ctx, tx, id, in.Tags); err != nil {
		return ledger.Transaction{}, err
	}
	for _, bd := range ledger.BudgetDeltas(entries, in.Tags) {
		if err := applyBudgetDelta(ctx, tx, bd); err != nil {
			return ledger.Transaction{}, err
		}
	}

	out, err := getTransaction(ctx, tx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (ledger.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func (s *Store) List(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	query := `select id from transactions t`
	args := []any{}
	if accountID != "" {
		query += ` where exists (
			select 1 from transaction_entries e
			where e.transaction_id = t.id and e.account_id = $1
		)`
		args = append(args, accountID)
	}
	query += ` order by t.date desc nulls last, t.created_at desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		txIDs = append(txIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ledger.Transaction, 0, len(txIDs))
	for _, id := range txIDs {
		tx, err := getTransaction(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) Replace(ctx context.Context, id string, in ledger.TransactionInput) (ledger.Transaction, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.policy.Check(in.Entries, s.warn); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockHeader(ctx, tx, id); err != nil {
		return ledger.Transaction{}, err
	}
	prior, tags, err := loadPostedState(ctx, tx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}

	// Old and new accounts are locked together, sorted, before any
	// delta is applied on either side.
	if err := lockAccounts(ctx, tx, unionAccountIDs(prior, in.Entries)); err != nil {
		return ledger.Transaction{}, err
	}
	if err := reversePostedState(ctx, tx, prior, tags); err != nil {
		return ledger.Transaction{}, err
	}

	if _, err := tx.ExecContext(ctx, `delete from transaction_tags where transaction_id = $1`, id); err != nil {
		return ledger.Transaction{}, err
	}
	if _, err := tx.ExecContext(ctx, `delete from transaction_entries where transaction_id = $1`, id); err != nil {
		return ledger.Transaction{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update transactions
		set date = $2, description = $3, currency = $4, updated_at = now()
		where id = $1
	`, id, dateArg(in.Date), in.Description, in.Currency); err != nil {
		return ledger.Transaction{}, err
	}

	entries, err := insertAndPost(ctx, tx, id, in.Entries)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := linkTags(ctx, tx, id, in.Tags); err != nil {
		return ledger.Transaction{}, err
	}
	for _, bd := range ledger.BudgetDeltas(entries, in.Tags) {
		if err := applyBudgetDelta(ctx, tx, bd); err != nil {
			return ledger.Transaction{}, err
		}
	}

	out, err := getTransaction(ctx, tx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockHeader(ctx, tx, id); err != nil {
		return err
	}
	prior, tags, err := loadPostedState(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := lockAccounts(ctx, tx, unionAccountIDs(prior, nil)); err != nil {
		return err
	}
	if err := reversePostedState(ctx, tx, prior, tags); err != nil {
		return err
	}

	// Children before parent.
	if _, err := tx.ExecContext(ctx, `delete from transaction_tags where transaction_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from transaction_entries where transaction_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from transactions where id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- posting helpers ---

// insertAndPost writes each entry row and applies its signed delta to
// the owning account.
func insertAndPost(ctx context.Context, q querier, txID string, inputs []ledger.EntryInput) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, len(inputs))
	for _, e := range inputs {
		entry := ledger.Entry{
			ID:            ids.New(),
			TransactionID: txID,
			AccountID:     e.AccountID,
			Type:          e.Type,
			Amount:        e.Amount,
		}
		if _, err := q.ExecContext(ctx, `
			insert into transaction_entries(id, transaction_id, account_id, entry_type, amount)
			values ($1, $2, $3, $4, $5)
		`, entry.ID, txID, entry.AccountID, string(entry.Type), entry.Amount); err != nil {
			return nil, err
		}
		if err := applyPosting(ctx, q, entry.AccountID, ledger.PostingDelta(entry.Type, entry.Amount)); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// applyPosting adds the delta to the account row. Zero rows affected
// means the account vanished between lock and update (or was never
// locked); the caller's transaction must abort, never skip.
func applyPosting(ctx context.Context, q querier, accountID string, d ledger.Delta) error {
	res, err := q.ExecContext(ctx, `
		update accounts
		set balance = balance + $2,
		    debits_ytd = debits_ytd + $3,
		    credits_ytd = credits_ytd + $4,
		    budget_actual = budget_actual + $5,
		    updated_at = now()
		where id = $1
	`, accountID, d.Balance, d.DebitsYTD, d.CreditsYTD, d.BudgetActual)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
	}
	return nil
}

// applyBudgetDelta adjusts the budget line matched by account and
// case-insensitive name. No matching line is a legitimate no-op:
// budgets cover only a subset of account/tag pairs.
func applyBudgetDelta(ctx context.Context, q querier, bd ledger.BudgetDelta) error {
	_, err := q.ExecContext(ctx, `
		update budgets
		set actual_amount = actual_amount + $3
		where account_id = $1 and lower(name) = lower($2)
	`, bd.AccountID, bd.Tag, bd.Amount)
	return err
}

// linkTags resolves each tag name (first write wins under the unique
// constraint) and links it to the transaction idempotently.
func linkTags(ctx context.Context, q querier, txID string, tags []string) error {
	for _, name := range tags {
		if _, err := q.ExecContext(ctx, `
			insert into tags(id, name) values ($1, $2)
			on conflict (name) do nothing
		`, ids.New(), name); err != nil {
			return err
		}
		var tagID string
		if err := q.QueryRowContext(ctx, `select id from tags where name = $1`, name).Scan(&tagID); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			insert into transaction_tags(transaction_id, tag_id) values ($1, $2)
			on conflict do nothing
		`, txID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// lockHeader pins the transaction row for the lifetime of the
// operation; ErrNotFound when the id does not resolve.
func lockHeader(ctx context.Context, q querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `select 1 from transactions where id = $1 for update`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return err
}

// lockAccounts takes row locks in sorted id order to avoid deadlocks
// between concurrent postings (same discipline as any multi-account
// money movement). A missing account surfaces here, before any write.
func lockAccounts(ctx context.Context, q querier, accountIDs []string) error {
	for _, id := range accountIDs {
		var one int
		err := q.QueryRowContext(ctx, `select 1 from accounts where id = $1 for update`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// loadPostedState reads the entries and tags as stored, the inputs to
// reversal. Reversal arithmetic must never depend on new input.
func loadPostedState(ctx context.Context, q querier, txID string) ([]ledger.Entry, []string, error) {
	entries, err := loadEntries(ctx, q, txID)
	if err != nil {
		return nil, nil, err
	}
	tags, err := loadTags(ctx, q, txID)
	if err != nil {
		return nil, nil, err
	}
	return entries, tags, nil
}

func reversePostedState(ctx context.Context, q querier, entries []ledger.Entry, tags []string) error {
	for _, e := range entries {
		if err := applyPosting(ctx, q, e.AccountID, ledger.ReversalDelta(e.Type, e.Amount)); err != nil {
			return err
		}
	}
	for _, bd := range ledger.BudgetDeltas(entries, tags) {
		if err := applyBudgetDelta(ctx, q, bd.Negate()); err != nil {
			return err
		}
	}
	return nil
}

func loadEntries(ctx context.Context, q querier, txID string) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		select e.id, e.transaction_id, e.account_id, coalesce(a.name, ''), e.entry_type, e.amount, e.created_at
		from transaction_entries e
		left join accounts a on a.id = e.account_id
		where e.transaction_id = $1
		order by e.created_at, e.id
	`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var typ string
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.AccountName, &typ, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = ledger.EntryType(typ)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func loadTags(ctx context.Context, q querier, txID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		select t.name
		from tags t
		join transaction_tags tt on tt.tag_id = t.id
		where tt.transaction_id = $1
		order by t.name
	`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// getTransaction hydrates the full aggregate.
func getTransaction(ctx context.Context, q querier, id string) (ledger.Transaction, error) {
	var (
		out  ledger.Transaction
		date sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		select id, date, description, currency, created_at, updated_at
		from transactions where id = $1
	`, id).Scan(&out.ID, &date, &out.Description, &out.Currency, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if date.Valid {
		d := ledger.DateOf(date.Time)
		out.Date = &d
	}

	if out.Entries, err = loadEntries(ctx, q, id); err != nil {
		return ledger.Transaction{}, err
	}
	if out.Tags, err = loadTags(ctx, q, id); err != nil {
		return ledger.Transaction{}, err
	}
	return out, nil
}

// --- small helpers ---

func dateArg(d *ledger.Date) any {
	if d == nil {
		return nil
	}
	return d.Time()
}

func entryAccountIDs(entries []ledger.EntryInput) []string {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e.AccountID] = true
	}
	return sortedKeys(set)
}

func unionAccountIDs(prior []ledger.Entry, next []ledger.EntryInput) []string {
	set := make(map[string]bool, len(prior)+len(next))
	for _, e := range prior {
		set[e.AccountID] = true
	}
	for _, e := range next {
		set[e.AccountID] = true
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
