package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tallybook.org/internal/ledger"
	"tallybook.org/internal/obs"
)

type entryPayload struct {
	AccountID string          `json:"account_id"`
	EntryType string          `json:"entry_type"`
	Amount    decimal.Decimal `json:"amount"`
}

type transactionRequest struct {
	Date        *string        `json:"date"`
	Description string         `json:"description"`
	Currency    string         `json:"currency"`
	Entries     []entryPayload `json:"entries"`
	Tags        []string       `json:"tags"`
}

func (req transactionRequest) toInput() (ledger.TransactionInput, error) {
	in := ledger.TransactionInput{
		Description: req.Description,
		Currency:    req.Currency,
		Tags:        req.Tags,
	}
	if req.Date != nil && strings.TrimSpace(*req.Date) != "" {
		d, err := ledger.ParseDate(*req.Date)
		if err != nil {
			return ledger.TransactionInput{}, err
		}
		in.Date = &d
	}
	for _, e := range req.Entries {
		in.Entries = append(in.Entries, ledger.EntryInput{
			AccountID: strings.TrimSpace(e.AccountID),
			Type:      ledger.EntryType(strings.ToLower(strings.TrimSpace(e.EntryType))),
			Amount:    e.Amount,
		})
	}
	return in, nil
}

type listTransactionsResponse struct {
	Items []ledger.Transaction `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

func (a *API) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := a.svc.Create(r.Context(), in)
	obs.ObservePosting("create", err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.transaction.create", "transaction", tx.ID, map[string]string{
		"currency": tx.Currency,
		"entries":  strconv.Itoa(len(tx.Entries)),
		"tags":     strconv.Itoa(len(tx.Tags)),
	})

	w.Header().Set("Location", "/v1/transactions/"+tx.ID)
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := a.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))

	items, err := a.svc.List(r.Context(), accountID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) replaceTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := a.svc.Replace(r.Context(), id, in)
	obs.ObservePosting("replace", err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.transaction.replace", "transaction", tx.ID, map[string]string{
		"currency": tx.Currency,
		"entries":  strconv.Itoa(len(tx.Entries)),
		"tags":     strconv.Itoa(len(tx.Tags)),
	})

	writeJSON(w, http.StatusOK, tx)
}

func (a *API) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := a.svc.Delete(r.Context(), id)
	obs.ObservePosting("delete", err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.transaction.delete", "transaction", id, nil)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleLedgerError maps engine errors to status codes. Anything
// unrecognized is a 500 with a generic message; the real cause is
// logged server-side only.
func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountRequired),
		errors.Is(err, ledger.ErrInvalidEntryType),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrUnbalanced),
		errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.LogJSON(map[string]any{
			"level":      "error",
			"msg":        "ledger operation failed",
			"error":      err.Error(),
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
