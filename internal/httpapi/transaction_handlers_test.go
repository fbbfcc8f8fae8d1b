package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tallybook.org/internal/ledger"
)

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T) (apiClient, *ledger.InMemory, ledger.Account, ledger.Account) {
	t.Helper()
	svc := ledger.NewInMemory(ledger.PermitUnbalanced, nil)
	a := svc.SeedAccount("Checking")
	b := svc.SeedAccount("Savings")
	srv := httptest.NewServer(New(svc, ReadyProbe{}, "test").Handler())
	t.Cleanup(srv.Close)
	return apiClient{t: t, srv: srv}, svc, a, b
}

func (c apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func transferBody(a, b ledger.Account, amount int) map[string]any {
	return map[string]any{
		"description": "transfer",
		"entries": []map[string]any{
			{"account_id": a.ID, "entry_type": "debit", "amount": amount},
			{"account_id": b.ID, "entry_type": "credit", "amount": amount},
		},
	}
}

func TestTransactionLifecycle(t *testing.T) {
	c, _, a, b := newTestAPI(t)

	body := transferBody(a, b, 1500)
	body["date"] = "2025-03-01"
	body["tags"] = []string{"Rent"}

	resp := c.do(http.MethodPost, "/v1/transactions", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[ledger.Transaction](t, resp)
	assert.Equal(t, "/v1/transactions/"+created.ID, resp.Header.Get("Location"))
	assert.Equal(t, "USD", created.Currency)
	require.Len(t, created.Entries, 2)
	assert.Equal(t, "Checking", created.Entries[0].AccountName)
	assert.Equal(t, []string{"Rent"}, created.Tags)

	resp = c.do(http.MethodGet, "/v1/transactions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[ledger.Transaction](t, resp)
	assert.Equal(t, created.ID, got.ID)
	require.NotNil(t, got.Date)
	assert.Equal(t, "2025-03-01", got.Date.String())

	resp = c.do(http.MethodPut, "/v1/transactions/"+created.ID, transferBody(a, b, 2000))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	replaced := decodeBody[ledger.Transaction](t, resp)
	assert.Equal(t, created.ID, replaced.ID)
	require.Len(t, replaced.Entries, 2)
	assert.Equal(t, "2000", replaced.Entries[0].Amount.String())
	assert.Empty(t, replaced.Tags, "replace swaps the tag set")

	resp = c.do(http.MethodGet, "/v1/transactions?account_id="+a.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[listTransactionsResponse](t, resp)
	require.Len(t, list.Items, 1)
	assert.Equal(t, created.ID, list.Items[0].ID)
	assert.False(t, list.AsOf.IsZero())

	resp = c.do(http.MethodDelete, "/v1/transactions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := decodeBody[map[string]any](t, resp)
	assert.Equal(t, true, deleted["success"])

	resp = c.do(http.MethodGet, "/v1/transactions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateRejectsMalformedRequests(t *testing.T) {
	c, _, a, b := newTestAPI(t)

	cases := map[string]map[string]any{
		"unknown field": {"nope": true},
		"bad date":      {"date": "03/01/2025", "entries": transferBody(a, b, 1)["entries"]},
		"bad entry type": {"entries": []map[string]any{
			{"account_id": a.ID, "entry_type": "transfer", "amount": 10},
		}},
		"missing account": {"entries": []map[string]any{
			{"entry_type": "debit", "amount": 10},
		}},
		"negative amount": {"entries": []map[string]any{
			{"account_id": a.ID, "entry_type": "debit", "amount": -10},
		}},
	}
	for name, body := range cases {
		resp := c.do(http.MethodPost, "/v1/transactions", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}

	// No body at all.
	resp := c.do(http.MethodPost, "/v1/transactions", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "request body is required", errBody["error"])
	assert.NotEmpty(t, errBody["request_id"])
}

func TestCreateUnknownAccountIsBadRequest(t *testing.T) {
	c, _, _, _ := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/transactions", map[string]any{
		"entries": []map[string]any{
			{"account_id": "missing", "entry_type": "debit", "amount": 10},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownTransactionIsNotFound(t *testing.T) {
	c, _, _, _ := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/transactions/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["request_id"])
}

func TestMethodNotAllowed(t *testing.T) {
	c, _, _, _ := newTestAPI(t)

	resp := c.do(http.MethodPatch, "/v1/transactions/abc", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthAndInfoEndpoints(t *testing.T) {
	c, _, _, _ := newTestAPI(t)

	resp := c.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "tallybook-api", health["service"])

	resp = c.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.do(http.MethodGet, "/v1/info", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "test", info["version"])
}
