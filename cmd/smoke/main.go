// Command smoke drives a running tallybook API end to end: it posts a
// balanced transfer between two existing accounts, edits it, checks the
// hydrated responses, and deletes it again. Pass the two account ids of
// a scratch environment; the tool leaves no transactions behind.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"tallybook.org/internal/ledger"
	"tallybook.org/internal/ledger/remote"
)

func main() {
	baseURL := envDefault("TALLYBOOK_API_URL", "http://localhost:8080")
	accA := os.Getenv("TALLYBOOK_SMOKE_ACCOUNT_A")
	accB := os.Getenv("TALLYBOOK_SMOKE_ACCOUNT_B")
	if accA == "" || accB == "" {
		log.Fatal("set TALLYBOOK_SMOKE_ACCOUNT_A and TALLYBOOK_SMOKE_ACCOUNT_B")
	}

	client := remote.New(baseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	amount := decimal.NewFromInt(1500)
	tx, err := client.Create(ctx, ledger.TransactionInput{
		Description: "smoke transfer",
		Entries: []ledger.EntryInput{
			{AccountID: accA, Type: ledger.Debit, Amount: amount},
			{AccountID: accB, Type: ledger.Credit, Amount: amount},
		},
		Tags: []string{"Smoke"},
	})
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	if len(tx.Entries) != 2 || tx.Currency != ledger.DefaultCurrency {
		log.Fatalf("unexpected create response: %+v", tx)
	}

	bigger := decimal.NewFromInt(2000)
	tx, err = client.Replace(ctx, tx.ID, ledger.TransactionInput{
		Description: "smoke transfer (edited)",
		Entries: []ledger.EntryInput{
			{AccountID: accA, Type: ledger.Debit, Amount: bigger},
			{AccountID: accB, Type: ledger.Credit, Amount: bigger},
		},
		Tags: []string{"Smoke"},
	})
	if err != nil {
		log.Fatalf("replace: %v", err)
	}
	if !tx.Entries[0].Amount.Equal(bigger) {
		log.Fatalf("replace did not take: %s", tx.Entries[0].Amount)
	}

	listed, err := client.List(ctx, accA)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	if !containsTransaction(listed, tx.ID) {
		log.Fatalf("list by account %s does not include %s", accA, tx.ID)
	}

	if err := client.Delete(ctx, tx.ID); err != nil {
		log.Fatalf("delete: %v", err)
	}
	if _, err := client.Get(ctx, tx.ID); !errors.Is(err, ledger.ErrNotFound) {
		log.Fatalf("expected not found after delete, got %v", err)
	}

	fmt.Printf("smoke test passed against %s\n", baseURL)
}

func containsTransaction(txs []ledger.Transaction, id string) bool {
	for _, tx := range txs {
		if tx.ID == id {
			return true
		}
	}
	return false
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
