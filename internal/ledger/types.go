package ledger

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType distinguishes the two legs a transaction entry can take.
type EntryType string

const (
	Debit  EntryType = "debit"
	Credit EntryType = "credit"
)

// Valid reports whether t is one of the two known entry types.
func (t EntryType) Valid() bool { return t == Debit || t == Credit }

// Account is a named ledger bucket. Its numeric fields are mutated only
// through posting deltas; account creation and editing belong to a
// separate collaborator.
type Account struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
	DebitsYTD    decimal.Decimal `json:"debits_ytd"`
	CreditsYTD   decimal.Decimal `json:"credits_ytd"`
	BudgetActual decimal.Decimal `json:"budget_actual"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Entry is one debit or credit leg of a transaction, targeting exactly
// one account. AccountName is filled in on hydration for display.
type Entry struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	AccountName   string          `json:"account_name,omitempty"`
	Type          EntryType       `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Transaction is the atomic unit of financial activity: a header plus
// its owned entries and tag associations.
type Transaction struct {
	ID          string    `json:"id"`
	Date        *Date     `json:"date"`
	Description string    `json:"description"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Entries     []Entry   `json:"entries"`
	Tags        []string  `json:"tags"`
}

// Tag is a user-defined label, unique by exact name. Budget matching is
// case-insensitive, tag identity is not.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Budget is a line item owned by an external collaborator. The engine
// only adjusts ActualAmount; it never creates or deletes budget rows.
type Budget struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Name         string          `json:"name"`
	ActualAmount decimal.Decimal `json:"actual_amount"`
}

// EntryInput is one submitted transaction leg.
type EntryInput struct {
	AccountID string          `json:"account_id"`
	Type      EntryType       `json:"entry_type"`
	Amount    decimal.Decimal `json:"amount"`
}

// TransactionInput carries everything needed to create or replace a
// transaction.
type TransactionInput struct {
	Date        *Date        `json:"date"`
	Description string       `json:"description"`
	Currency    string       `json:"currency"`
	Entries     []EntryInput `json:"entries"`
	Tags        []string     `json:"tags"`
}

// DefaultCurrency is applied when the input omits one.
const DefaultCurrency = "USD"

// Normalize fills defaults and trims tag names, dropping empties and
// exact duplicates while preserving submission order.
func (in *TransactionInput) Normalize() {
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	in.Description = strings.TrimSpace(in.Description)

	seen := make(map[string]bool, len(in.Tags))
	tags := in.Tags[:0]
	for _, tag := range in.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	in.Tags = tags
}

// Validate checks input shape only; account existence is verified by
// the store inside the same database transaction that posts the
// entries, so a miss rolls the whole operation back.
func (in TransactionInput) Validate() error {
	for i, e := range in.Entries {
		if strings.TrimSpace(e.AccountID) == "" {
			return fmt.Errorf("entry %d: %w", i, ErrAccountRequired)
		}
		if !e.Type.Valid() {
			return fmt.Errorf("entry %d: %w", i, ErrInvalidEntryType)
		}
		if e.Amount.IsNegative() {
			return fmt.Errorf("entry %d: %w", i, ErrInvalidAmount)
		}
	}
	return nil
}

var (
	ErrNotFound         = errors.New("transaction not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountRequired  = errors.New("account_id is required")
	ErrInvalidEntryType = errors.New("entry_type must be debit or credit")
	ErrInvalidAmount    = errors.New("amount must be >= 0")
	ErrUnbalanced       = errors.New("debit and credit totals must match")
)

// Date is a calendar date without a time component. It marshals as
// "2006-01-02" and maps to a SQL DATE column.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time returns the date at midnight UTC, the form stored in Postgres.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer for DATE columns.
func (d Date) Value() (driver.Value, error) { return d.Time(), nil }

// Scan implements sql.Scanner.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = DateOf(v)
		return nil
	case []byte:
		parsed, err := ParseDate(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}
