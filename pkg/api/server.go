package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/yogeshk/obex/pkg/exchange"
	"github.com/yogeshk/obex/pkg/exchange/events"
	"github.com/yogeshk/obex/pkg/exchange/token"
)

// Server exposes the exchange's read surface and operation submission over
// REST, and its record stream over WebSocket.
type Server struct {
	x        *exchange.Exchange
	registry *token.Registry
	router   *mux.Router
	hub      *Hub
	log      *zap.SugaredLogger
}

// NewServer creates a new API server around an existing hub. The hub is
// shared with the exchange's emitter (see NewHubEmitter) so records flow to
// WebSocket subscribers.
func NewServer(x *exchange.Exchange, registry *token.Registry, hub *Hub, log *zap.SugaredLogger) *Server {
	s := &Server{
		x:        x,
		registry: registry,
		router:   mux.NewRouter(),
		hub:      hub,
		log:      log,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Read surface
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/balances/{token}/{owner}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/count", s.handleGetOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/status", s.handleGetOrderStatus).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Operation submission
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/execute", s.handleExecuteOrder).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// NewHubEmitter returns an events.Emitter that forwards every exchange
// record to subscribed WebSocket clients. Channels: "ledger" for deposits
// and withdrawals, "orders" for creations and cancels, "trades" for fills.
func NewHubEmitter(hub *Hub) events.Emitter {
	return hubEmitter{hub: hub}
}

type hubEmitter struct {
	hub *Hub
}

func (e hubEmitter) EmitDeposit(d events.Deposit) {
	e.hub.BroadcastToChannel("ledger", WSRecord{Type: "deposit", Data: BalanceInfo{
		Token: d.Token.Hex(), Owner: d.User.Hex(), Balance: d.Balance.String(),
	}})
}

func (e hubEmitter) EmitWithdraw(w events.Withdraw) {
	e.hub.BroadcastToChannel("ledger", WSRecord{Type: "withdraw", Data: BalanceInfo{
		Token: w.Token.Hex(), Owner: w.User.Hex(), Balance: w.Balance.String(),
	}})
}

func (e hubEmitter) EmitOrder(o events.Order) {
	e.hub.BroadcastToChannel("orders", WSRecord{Type: "order", Data: OrderInfo{
		ID: o.ID, Creator: o.User.Hex(),
		TokenGet: o.TokenGet.Hex(), AmountGet: o.AmountGet.String(),
		TokenGive: o.TokenGive.Hex(), AmountGive: o.AmountGive.String(),
		Timestamp: o.Timestamp, Status: exchange.OrderOpen.String(),
	}})
}

func (e hubEmitter) EmitCancel(c events.Cancel) {
	e.hub.BroadcastToChannel("orders", WSRecord{Type: "cancel", Data: OrderInfo{
		ID: c.ID, Creator: c.User.Hex(),
		TokenGet: c.TokenGet.Hex(), AmountGet: c.AmountGet.String(),
		TokenGive: c.TokenGive.Hex(), AmountGive: c.AmountGive.String(),
		Timestamp: c.Timestamp, Status: exchange.OrderCancelled.String(),
	}})
}

func (e hubEmitter) EmitTrade(t events.Trade) {
	e.hub.BroadcastToChannel("trades", WSRecord{Type: "trade", Data: toTradeInfo(t)})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.List()

	response := make([]TokenInfo, len(infos))
	for i, info := range infos {
		response[i] = TokenInfo{
			Address:  info.Address.Hex(),
			Name:     info.Name,
			Symbol:   info.Symbol,
			Decimals: info.Decimals,
		}
	}

	respondJSON(w, response)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tok, ok := parseAddress(vars["token"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid token address", "")
		return
	}
	owner, ok := parseAddress(vars["owner"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid owner address", "")
		return
	}

	respondJSON(w, BalanceInfo{
		Token:   tok.Hex(),
		Owner:   owner.Hex(),
		Balance: s.x.BalanceOf(tok, owner).String(),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.x.OpenOrders()

	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = toOrderInfo(o)
	}

	respondJSON(w, response)
}

func (s *Server) handleGetOrderCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, OrderCountResponse{Count: s.x.OrderCount()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	o, err := s.x.Order(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}

	respondJSON(w, toOrderInfo(o))
}

func (s *Server) handleGetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	respondJSON(w, OrderStatusResponse{
		ID:        id,
		Cancelled: s.x.OrderCancelled(id),
		Completed: s.x.OrderCompleted(id),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	trades, err := s.x.RecentTrades(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load trades", err.Error())
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = toTradeInfo(t)
	}

	respondJSON(w, response)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	tok, from, amount, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}

	if err := s.x.Deposit(tok, from, amount); err != nil {
		respondOpError(w, err)
		return
	}

	respondJSON(w, BalanceInfo{Token: tok.Hex(), Owner: from.Hex(), Balance: s.x.BalanceOf(tok, from).String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	tok, from, amount, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}

	if err := s.x.Withdraw(tok, from, amount); err != nil {
		respondOpError(w, err)
		return
	}

	respondJSON(w, BalanceInfo{Token: tok.Hex(), Owner: from.Hex(), Balance: s.x.BalanceOf(tok, from).String()})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	creator, ok := parseAddress(req.Creator)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid creator address", "")
		return
	}
	tokenGet, ok := parseAddress(req.TokenGet)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tokenGet address", "")
		return
	}
	tokenGive, ok := parseAddress(req.TokenGive)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tokenGive address", "")
		return
	}
	amountGet, ok := parseAmount(req.AmountGet)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid amountGet", "")
		return
	}
	amountGive, ok := parseAmount(req.AmountGive)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid amountGive", "")
		return
	}

	o, err := s.x.MakeOrder(creator, tokenGet, amountGet, tokenGive, amountGive)
	if err != nil {
		respondOpError(w, err)
		return
	}

	respondJSON(w, toOrderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, from, ok := s.decodeOrderAction(w, r)
	if !ok {
		return
	}

	if err := s.x.CancelOrder(from, id); err != nil {
		respondOpError(w, err)
		return
	}

	respondJSON(w, OrderStatusResponse{ID: id, Cancelled: true})
}

func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	id, from, ok := s.decodeOrderAction(w, r)
	if !ok {
		return
	}

	if err := s.x.ExecuteOrder(from, id); err != nil {
		respondOpError(w, err)
		return
	}

	respondJSON(w, OrderStatusResponse{ID: id, Completed: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) decodeTransfer(w http.ResponseWriter, r *http.Request) (tok, from common.Address, amount *big.Int, ok bool) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if tok, ok = parseAddress(req.Token); !ok {
		respondError(w, http.StatusBadRequest, "invalid token address", "")
		return
	}
	if from, ok = parseAddress(req.From); !ok {
		respondError(w, http.StatusBadRequest, "invalid from address", "")
		return
	}
	if amount, ok = parseAmount(req.Amount); !ok {
		respondError(w, http.StatusBadRequest, "invalid amount", "")
		return
	}
	return tok, from, amount, true
}

func (s *Server) decodeOrderAction(w http.ResponseWriter, r *http.Request) (id uint64, from common.Address, ok bool) {
	id, ok = parseOrderID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return 0, from, false
	}

	if from, ok = parseAddress(req.From); !ok {
		respondError(w, http.StatusBadRequest, "invalid from address", "")
		return
	}
	return id, from, true
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseAmount(s string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(s, 10)
	return amount, ok
}

func parseOrderID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func toOrderInfo(o *exchange.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Creator:    o.Creator.Hex(),
		TokenGet:   o.TokenGet.Hex(),
		AmountGet:  o.AmountGet.String(),
		TokenGive:  o.TokenGive.Hex(),
		AmountGive: o.AmountGive.String(),
		Timestamp:  o.Timestamp,
		Status:     o.Status.String(),
	}
}

func toTradeInfo(t events.Trade) TradeInfo {
	return TradeInfo{
		ID:         t.ID,
		Taker:      t.User.Hex(),
		TokenGet:   t.TokenGet.Hex(),
		AmountGet:  t.AmountGet.String(),
		TokenGive:  t.TokenGive.Hex(),
		AmountGive: t.AmountGive.String(),
		Creator:    t.Creator.Hex(),
		Timestamp:  t.Timestamp,
	}
}

// respondOpError maps exchange failure kinds to HTTP statuses.
func respondOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", err.Error())
	case errors.Is(err, exchange.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "not order creator", err.Error())
	case errors.Is(err, exchange.ErrAlreadyFinalized):
		respondError(w, http.StatusConflict, "order already finalized", err.Error())
	case errors.Is(err, exchange.ErrInsufficientBalance):
		respondError(w, http.StatusUnprocessableEntity, "insufficient balance", err.Error())
	case errors.Is(err, exchange.ErrTransferFailed):
		respondError(w, http.StatusUnprocessableEntity, "transfer failed", err.Error())
	case errors.Is(err, exchange.ErrUnknownToken), errors.Is(err, exchange.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "operation failed", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
