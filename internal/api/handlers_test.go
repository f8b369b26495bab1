package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/bridgesplit/listings/internal/api"
	"github.com/bridgesplit/listings/internal/custody"
	"github.com/bridgesplit/listings/internal/engine"
	"github.com/bridgesplit/listings/internal/fees"
	"github.com/bridgesplit/listings/internal/model"
	"github.com/bridgesplit/listings/internal/payments"
	"github.com/bridgesplit/listings/internal/store"
)

type testEnv struct {
	router chi.Router
	tokens *custody.MemoryLedger
	reg    *custody.MemoryRegistry
	pay    *payments.MemoryLedger
}

// newTestEnv wires the full service over in-memory collaborators and a
// chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	reg := custody.NewMemoryRegistry()
	tokens := custody.NewMemoryLedger()
	tree := custody.NewMemoryTree()
	pay := payments.NewMemoryLedger()
	custodian := custody.NewCustodian(reg, tokens, tree)
	oracle := fees.StaticOracle{Cfg: fees.Config{FeesOn: true, FeeBps: 250, Treasury: "treasury"}}
	svc := engine.NewService(st, custodian, pay, oracle)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		api.NewServer(svc).Mount(r)
	})
	return &testEnv{router: r, tokens: tokens, reg: reg, pay: pay}
}

// do sends a JSON request as the given caller.
func (env *testEnv) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestMarketEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", "admin", map[string]any{"payment_asset": "usdc"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: got %d, want 201: %s", w.Code, w.Body.String())
	}
	market := decode[model.Market](t, w)
	if market.State != model.MarketOpen {
		t.Errorf("market state = %s, want open", market.State)
	}

	// Duplicate payment asset collides.
	w = env.do(t, "POST", "/api/v1/markets", "admin", map[string]any{"payment_asset": "usdc"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate market: got %d, want 400", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/markets/"+market.Address, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get market: got %d, want 200", w.Code)
	}

	// Only the initializer may close.
	w = env.do(t, "POST", "/api/v1/markets/"+market.Address+"/close", "mallory", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("close by stranger: got %d, want 403", w.Code)
	}
	w = env.do(t, "POST", "/api/v1/markets/"+market.Address+"/close", "admin", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("close market: got %d, want 204", w.Code)
	}
	w = env.do(t, "POST", "/api/v1/markets/"+market.Address+"/close", "admin", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("double close: got %d, want 409", w.Code)
	}
}

func TestWalletEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.pay.Mint("bob", 200)

	w := env.do(t, "POST", "/api/v1/wallets", "bob", map[string]any{"initial_amount": 150})
	if w.Code != http.StatusCreated {
		t.Fatalf("init wallet: got %d, want 201: %s", w.Code, w.Body.String())
	}
	wallet := decode[model.Wallet](t, w)
	if wallet.Balance != 150 {
		t.Errorf("balance = %d, want 150", wallet.Balance)
	}

	w = env.do(t, "POST", "/api/v1/wallets/edit", "bob", map[string]any{"amount": 50, "direction": "decrease"})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: got %d, want 200: %s", w.Code, w.Body.String())
	}
	wallet = decode[model.Wallet](t, w)
	if wallet.Balance != 100 {
		t.Errorf("balance after withdraw = %d, want 100", wallet.Balance)
	}

	// Over-withdrawal is a conflict, not a 500.
	w = env.do(t, "POST", "/api/v1/wallets/edit", "bob", map[string]any{"amount": 500, "direction": "decrease"})
	if w.Code != http.StatusConflict {
		t.Errorf("over-withdraw: got %d, want 409", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/wallets/bob", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get wallet: got %d, want 200", w.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", "admin", map[string]any{"payment_asset": "sol"})
	market := decode[model.Market](t, w)

	env.reg.Register(custody.AssetInfo{ID: "asset-x", Policy: custody.PolicyDirect})
	env.tokens.Mint("asset-x", "alice")

	w = env.do(t, "POST", "/api/v1/orders/sell", "alice", map[string]any{
		"market": market.Address, "nonce": "1", "price": 100, "asset_id": "asset-x", "fees_on": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("init sell: got %d, want 201: %s", w.Code, w.Body.String())
	}
	sell := decode[model.Order](t, w)

	env.pay.Mint("bob", 150)
	w = env.do(t, "POST", "/api/v1/wallets", "bob", map[string]any{"initial_amount": 150})
	if w.Code != http.StatusCreated {
		t.Fatalf("init wallet: got %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, "POST", "/api/v1/orders/buy", "bob", map[string]any{
		"market": market.Address, "nonce": "2", "price": 100, "size": 1, "fees_on": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("init buy: got %d: %s", w.Code, w.Body.String())
	}
	buy := decode[model.Order](t, w)

	w = env.do(t, "POST", "/api/v1/orders/fill", "bob", map[string]any{
		"buy_order": buy.Address, "sell_order": sell.Address,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("fill: got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/orders/"+sell.Address, "", nil)
	filled := decode[model.Order](t, w)
	if filled.State != model.OrderClosed {
		t.Errorf("sell state = %s, want closed", filled.State)
	}

	// A second fill of the settled pair conflicts.
	w = env.do(t, "POST", "/api/v1/orders/fill", "bob", map[string]any{
		"buy_order": buy.Address, "sell_order": sell.Address,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("refill: got %d, want 409", w.Code)
	}

	// Owner reclaims the closed record.
	w = env.do(t, "DELETE", "/api/v1/orders/"+sell.Address, "alice", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("reclaim: got %d, want 204: %s", w.Code, w.Body.String())
	}
	w = env.do(t, "GET", "/api/v1/orders/"+sell.Address, "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("reclaimed order: got %d, want 404", w.Code)
	}
}

func TestCloseOrderAuthorization(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", "admin", map[string]any{"payment_asset": "sol"})
	market := decode[model.Market](t, w)

	env.reg.Register(custody.AssetInfo{ID: "asset-x", Policy: custody.PolicyDirect})
	env.tokens.Mint("asset-x", "alice")

	w = env.do(t, "POST", "/api/v1/orders/sell", "alice", map[string]any{
		"market": market.Address, "nonce": "1", "price": 100, "asset_id": "asset-x", "fees_on": true,
	})
	sell := decode[model.Order](t, w)

	w = env.do(t, "POST", "/api/v1/orders/"+sell.Address+"/close", "mallory", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("close by stranger: got %d, want 403", w.Code)
	}
	w = env.do(t, "POST", "/api/v1/orders/"+sell.Address+"/close-sell", "alice", nil)
	if w.Code != http.StatusOK {
		t.Errorf("close by owner: got %d, want 200: %s", w.Code, w.Body.String())
	}
	w = env.do(t, "POST", "/api/v1/orders/"+sell.Address+"/close", "alice", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("double close: got %d, want 409", w.Code)
	}
}

func TestUnknownOrderIs404(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/v1/orders/doesnotexist", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", w.Code)
	}
}

func TestMalformedBodyIs400(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/markets", bytes.NewBufferString("{not json"))
	req.Header.Set("X-Caller", "admin")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", w.Code)
	}
}
