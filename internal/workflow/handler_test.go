package workflow

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/stakeflow/stakeflow/internal/amount"
	"github.com/stakeflow/stakeflow/internal/chain"
)

func newTestApp(t *testing.T, sim *chain.Simulated) (*fiber.App, *harness) {
	t.Helper()
	h := newHarness(t, sim, fastOptions())
	handler := NewHandler(h.engine)

	app := fiber.New()
	app.Post("/account/connect", handler.Connect)
	app.Post("/account/disconnect", handler.Disconnect)
	app.Get("/stake", handler.Page)
	app.Put("/stake/form", handler.UpdateForm)
	app.Post("/stake/max", handler.MaxStake)
	app.Post("/approve", handler.Approve)
	app.Post("/stake", handler.Stake)
	app.Post("/unstake", handler.Unstake)
	return app, h
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestHandler_ConnectRendersBalances(t *testing.T) {
	sim := chain.NewSimulated(adapter)
	chain.SeedBalance(sim, alice, amount.MustParse("1000.5"))
	app, _ := newTestApp(t, sim)

	status, _ := do(t, app, http.MethodPost, "/account/connect", `{"address":"not-an-address"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, raw := do(t, app, http.MethodPost, "/account/connect", `{"address":"`+alice.Hex()+`"}`)
	require.Equal(t, http.StatusOK, status)

	var page PageResponse
	require.NoError(t, json.Unmarshal(raw, &page))
	require.NotNil(t, page.Account)
	require.Equal(t, alice.Hex(), *page.Account)
	require.NotNil(t, page.Balances.WalletBalance)
	require.Equal(t, "1000.5", *page.Balances.WalletBalance)
	require.Equal(t, "idle", page.Actions["approve"].State)

	status, _ = do(t, app, http.MethodPost, "/account/connect", `{"address":"`+bob.Hex()+`"}`)
	require.Equal(t, http.StatusConflict, status)
}

func TestHandler_ActionStatusCodes(t *testing.T) {
	sim := chain.NewSimulated(adapter)
	chain.SeedBalance(sim, alice, amount.Units(1000))
	app, h := newTestApp(t, sim)

	status, _ := do(t, app, http.MethodPost, "/stake", "")
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = do(t, app, http.MethodPost, "/account/connect", `{"address":"`+alice.Hex()+`"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, http.MethodPut, "/stake/form", `{"stake_amount":"1.1234567"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/stake", `{"amount":"500"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, raw := do(t, app, http.MethodPost, "/approve", `{"amount":"500"}`)
	require.Equal(t, http.StatusAccepted, status)
	var tx TransactionResponse
	require.NoError(t, json.Unmarshal(raw, &tx))
	require.Equal(t, "approve", tx.Kind)
	require.Equal(t, "500", tx.Amount)
	require.NotEmpty(t, tx.Hash)

	require.Eventually(t, func() bool {
		return h.engine.Machine(chain.KindApprove).State() == StateIdle
	}, 2*time.Second, 5*time.Millisecond)

	status, _ = do(t, app, http.MethodPost, "/stake", "")
	require.Equal(t, http.StatusAccepted, status)

	status, _ = do(t, app, http.MethodPost, "/unstake", `{"amount":"900"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestHandler_MaxStakeFillsForm(t *testing.T) {
	sim := chain.NewSimulated(adapter)
	chain.SeedBalance(sim, alice, amount.MustParse("42.000001"))
	app, _ := newTestApp(t, sim)

	status, _ := do(t, app, http.MethodPost, "/account/connect", `{"address":"`+alice.Hex()+`"}`)
	require.Equal(t, http.StatusOK, status)

	status, raw := do(t, app, http.MethodPost, "/stake/max", "")
	require.Equal(t, http.StatusOK, status)
	var page PageResponse
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Equal(t, "42.000001", page.StakeAmount)
	require.False(t, page.CanStake)
}
