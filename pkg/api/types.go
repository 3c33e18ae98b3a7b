package api

// API request/response types for REST endpoints and WebSocket messages.
// Amounts cross the wire as decimal strings in the token's smallest unit.

// ==============================
// REST Response Types
// ==============================

// TokenInfo describes a registered token.
type TokenInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// BalanceInfo is a custody balance for (token, owner).
type BalanceInfo struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

// OrderInfo is an order record plus its lifecycle status.
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Creator    string `json:"creator"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	Status     string `json:"status"`    // "open" | "cancelled" | "completed"
}

// TradeInfo is an executed order fill.
type TradeInfo struct {
	ID         uint64 `json:"id"`
	Taker      string `json:"taker"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	Creator    string `json:"creator"`
	Timestamp  int64  `json:"timestamp"`
}

// OrderCountResponse is the response for GET /api/v1/orders/count.
type OrderCountResponse struct {
	Count uint64 `json:"count"`
}

// OrderStatusResponse is the response for GET /api/v1/orders/{id}/status.
type OrderStatusResponse struct {
	ID        uint64 `json:"id"`
	Cancelled bool   `json:"cancelled"`
	Completed bool   `json:"completed"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// REST Request Types
// ==============================

// TransferRequest is the payload for POST /api/v1/deposits and
// /api/v1/withdrawals.
type TransferRequest struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	Amount string `json:"amount"`
}

// MakeOrderRequest is the payload for POST /api/v1/orders.
type MakeOrderRequest struct {
	Creator    string `json:"creator"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
}

// OrderActionRequest is the payload for POST /api/v1/orders/{id}/cancel and
// /api/v1/orders/{id}/execute. From is the acting identity: the creator for
// a cancel, the taker for an execute.
type OrderActionRequest struct {
	From string `json:"from"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients to manage channel subscriptions.
// Channels: "ledger", "orders", "trades".
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "trades"]
}

// WSRecord wraps an exchange record for broadcast.
type WSRecord struct {
	Type string      `json:"type"` // "deposit" | "withdraw" | "order" | "cancel" | "trade"
	Data interface{} `json:"data"`
}
