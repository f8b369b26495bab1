// Package api exposes the settlement operations over HTTP. Callers are
// identified by the X-Caller header, standing in for the transaction
// signer; key management and signature verification live outside this
// service.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bridgesplit/listings/internal/custody"
	"github.com/bridgesplit/listings/internal/engine"
	"github.com/bridgesplit/listings/internal/model"
)

// Server holds the HTTP handlers over the settlement service.
type Server struct {
	svc *engine.Service
}

// NewServer creates the handler set.
func NewServer(svc *engine.Service) *Server {
	return &Server{svc: svc}
}

// Mount attaches every operation under the given router.
func (s *Server) Mount(r chi.Router) {
	// Market lifecycle.
	r.Post("/markets", s.InitMarket)
	r.Get("/markets/{address}", s.GetMarket)
	r.Get("/markets/{address}/orders", s.ListMarketOrders)
	r.Post("/markets/{address}/edit", s.EditMarket)
	r.Post("/markets/{address}/close", s.CloseMarket)

	// Bidding wallets.
	r.Post("/wallets", s.InitWallet)
	r.Post("/wallets/edit", s.EditWallet)
	r.Get("/wallets/{owner}", s.GetWallet)

	// Orders.
	r.Post("/orders/buy", s.InitBuyOrder)
	r.Post("/orders/sell", s.InitSellOrder)
	r.Get("/orders/{address}", s.GetOrder)
	r.Get("/owners/{owner}/orders", s.ListOwnerOrders)
	r.Post("/orders/{address}/edit-buy", s.EditBuyOrder)
	r.Post("/orders/{address}/edit-sell", s.EditSellOrder)
	r.Post("/orders/{address}/edit", s.EditOrder)
	r.Post("/orders/{address}/fill-buy", s.FillBuyOrder)
	r.Post("/orders/{address}/fill-sell", s.FillSellOrder)
	r.Post("/orders/fill", s.FillOrder)
	r.Post("/orders/{address}/close", s.CloseOrder)
	r.Post("/orders/{address}/close-buy", s.CloseBuyOrder)
	r.Post("/orders/{address}/close-sell", s.CloseSellOrder)
	r.Delete("/orders/{address}", s.ReclaimOrder)
}

// caller extracts the authenticated caller identity.
func caller(r *http.Request) string {
	return r.Header.Get("X-Caller")
}

// --- Request types ---

type initMarketRequest struct {
	PaymentAsset string `json:"payment_asset"`
}

type editMarketRequest struct {
	NewPaymentAsset string `json:"new_payment_asset"`
}

type initWalletRequest struct {
	InitialAmount uint64 `json:"initial_amount"`
}

type editWalletRequest struct {
	Amount    uint64 `json:"amount"`
	Direction string `json:"direction"`
}

type initBuyOrderRequest struct {
	Market     string `json:"market"`
	Nonce      string `json:"nonce"`
	Price      uint64 `json:"price"`
	Size       uint64 `json:"size"`
	FeesOn     bool   `json:"fees_on"`
	Compressed bool   `json:"compressed"`
}

type initSellOrderRequest struct {
	Market     string         `json:"market"`
	Nonce      string         `json:"nonce"`
	Price      uint64         `json:"price"`
	AssetID    string         `json:"asset_id"`
	FeesOn     bool           `json:"fees_on"`
	Compressed bool           `json:"compressed"`
	Proof      *custody.Proof `json:"proof,omitempty"`
}

type editBuyOrderRequest struct {
	NewPrice uint64 `json:"new_price"`
	NewSize  uint64 `json:"new_size"`
}

type editSellOrderRequest struct {
	NewPrice uint64 `json:"new_price"`
}

type editOrderRequest struct {
	NewPrice  uint64         `json:"new_price"`
	SizeDelta uint64         `json:"size_delta"`
	Direction string         `json:"direction"`
	Proof     *custody.Proof `json:"proof,omitempty"`
}

type fillBuyOrderRequest struct {
	AssetID    string         `json:"asset_id"`
	Compressed bool           `json:"compressed"`
	Proof      *custody.Proof `json:"proof,omitempty"`
}

type fillSellOrderRequest struct {
	Compressed bool           `json:"compressed"`
	Proof      *custody.Proof `json:"proof,omitempty"`
}

type fillOrderRequest struct {
	BuyOrder  string         `json:"buy_order"`
	SellOrder string         `json:"sell_order"`
	Proof     *custody.Proof `json:"proof,omitempty"`
}

type closeOrderRequest struct {
	Compressed bool           `json:"compressed"`
	Proof      *custody.Proof `json:"proof,omitempty"`
}

type fillPairResponse struct {
	BuyOrder  *model.Order `json:"buy_order"`
	SellOrder *model.Order `json:"sell_order"`
}

// --- Market handlers ---

func (s *Server) InitMarket(w http.ResponseWriter, r *http.Request) {
	var req initMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	market, err := s.svc.InitMarket(r.Context(), caller(r), req.PaymentAsset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

func (s *Server) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.svc.Market(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) ListMarketOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.svc.OrdersByMarket(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) EditMarket(w http.ResponseWriter, r *http.Request) {
	var req editMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	market, err := s.svc.EditMarket(r.Context(), caller(r), chi.URLParam(r, "address"), req.NewPaymentAsset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) CloseMarket(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CloseMarket(r.Context(), caller(r), chi.URLParam(r, "address")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Wallet handlers ---

func (s *Server) InitWallet(w http.ResponseWriter, r *http.Request) {
	var req initWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wallet, err := s.svc.InitWallet(r.Context(), caller(r), req.InitialAmount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (s *Server) EditWallet(w http.ResponseWriter, r *http.Request) {
	var req editWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wallet, err := s.svc.EditWallet(r.Context(), caller(r), req.Amount, model.EditDirection(req.Direction))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.svc.WalletFor(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// --- Order handlers ---

func (s *Server) InitBuyOrder(w http.ResponseWriter, r *http.Request) {
	var req initBuyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var order *model.Order
	var err error
	if req.Compressed {
		order, err = s.svc.CompressedInitBuyOrder(r.Context(), caller(r), req.Market, req.Nonce, req.Price, req.Size, req.FeesOn)
	} else {
		order, err = s.svc.InitBuyOrder(r.Context(), caller(r), req.Market, req.Nonce, req.Price, req.Size, req.FeesOn)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) InitSellOrder(w http.ResponseWriter, r *http.Request) {
	var req initSellOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var order *model.Order
	var err error
	if req.Compressed {
		order, err = s.svc.CompressedInitSellOrder(r.Context(), caller(r), req.Market, req.Nonce, req.Price, req.AssetID, req.Proof, req.FeesOn)
	} else {
		order, err = s.svc.InitSellOrder(r.Context(), caller(r), req.Market, req.Nonce, req.Price, req.AssetID, req.Proof, req.FeesOn)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Order(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) ListOwnerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.svc.OrdersByOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) EditBuyOrder(w http.ResponseWriter, r *http.Request) {
	var req editBuyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	order, err := s.svc.EditBuyOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.NewPrice, req.NewSize)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) EditSellOrder(w http.ResponseWriter, r *http.Request) {
	var req editSellOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	order, err := s.svc.EditSellOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.NewPrice)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) EditOrder(w http.ResponseWriter, r *http.Request) {
	var req editOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	order, err := s.svc.EditOrder(r.Context(), caller(r), chi.URLParam(r, "address"),
		req.NewPrice, req.SizeDelta, model.EditDirection(req.Direction), req.Proof)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) FillBuyOrder(w http.ResponseWriter, r *http.Request) {
	var req fillBuyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var order *model.Order
	var err error
	if req.Compressed {
		order, err = s.svc.CompressedFillBuyOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.AssetID, req.Proof)
	} else {
		order, err = s.svc.FillBuyOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.AssetID, req.Proof)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) FillSellOrder(w http.ResponseWriter, r *http.Request) {
	var req fillSellOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var order *model.Order
	var err error
	if req.Compressed {
		order, err = s.svc.CompressedFillSellOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.Proof)
	} else {
		order, err = s.svc.FillSellOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.Proof)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) FillOrder(w http.ResponseWriter, r *http.Request) {
	var req fillOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	buy, sell, err := s.svc.FillOrder(r.Context(), caller(r), req.BuyOrder, req.SellOrder, req.Proof)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fillPairResponse{BuyOrder: buy, SellOrder: sell})
}

func (s *Server) CloseOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeClose(w, r)
	if !ok {
		return
	}
	var order *model.Order
	var err error
	if req.Compressed {
		order, err = s.svc.CompressedCloseSellOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.Proof)
	} else {
		order, err = s.svc.CloseOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.Proof)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) CloseBuyOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.CloseBuyOrder(r.Context(), caller(r), chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) CloseSellOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeClose(w, r)
	if !ok {
		return
	}
	order, err := s.svc.CloseSellOrder(r.Context(), caller(r), chi.URLParam(r, "address"), req.Proof)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) ReclaimOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ReclaimOrder(r.Context(), caller(r), chi.URLParam(r, "address")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeClose reads an optional close body; an empty body means a plain
// close with no proof.
func decodeClose(w http.ResponseWriter, r *http.Request) (closeOrderRequest, bool) {
	var req closeOrderRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// --- Response helpers ---

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeEngineError maps an operation failure onto an HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	status := statusFor(kind)
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindAuthorization:
		return http.StatusForbidden
	case engine.KindInvalidParameters:
		return http.StatusBadRequest
	case engine.KindInsufficientBalance, engine.KindState, engine.KindAlreadySettled, engine.KindCustody:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
