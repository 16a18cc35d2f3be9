// handlers.go implements the REST control plane: venue management, trading
// passthroughs, strategy selection and lifecycle, and config access.
//
// Error mapping: unknown ids are 404, permission denials are 403, bad bodies
// and venue-side rejections are 400. Every mutation persists the config
// atomically before returning and broadcasts an event on the /ws stream.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"cryptobot/internal/config"
	"cryptobot/internal/store"
	"cryptobot/internal/strategy"
	"cryptobot/internal/venue"
	"cryptobot/pkg/types"
)

// Handlers carries the control plane's dependencies.
type Handlers struct {
	mu         sync.Mutex // guards cfg and its persistence
	cfg        *config.BotConfig
	store      *store.Store
	venues     *venue.Registry
	strategies *strategy.Registry
	hub        *Hub
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHandlers wires the control plane.
func NewHandlers(cfg *config.BotConfig, st *store.Store, venues *venue.Registry, strategies *strategy.Registry, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		cfg:        cfg,
		store:      st,
		venues:     venues,
		strategies: strategies,
		hub:        hub,
		logger:     logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// persist saves the config under the handler lock and logs failures.
// A failed save is reported to the client; the in-memory state has already
// moved on.
func (h *Handlers) persist(w http.ResponseWriter) bool {
	if err := h.store.Save(h.cfg); err != nil {
		h.logger.Error("failed to persist config", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist configuration")
		return false
	}
	return true
}

// venueView is a venue config with credentials redacted.
type venueView struct {
	VenueID         string                `json:"venue_id"`
	Name            string                `json:"name"`
	PermissionLevel types.PermissionLevel `json:"permission_level"`
	Enabled         bool                  `json:"enabled"`
	TestMode        bool                  `json:"test_mode"`
	HasCredentials  bool                  `json:"has_credentials"`
}

func viewOf(vc config.VenueConfig) venueView {
	return venueView{
		VenueID:         vc.VenueID,
		Name:            vc.Name,
		PermissionLevel: vc.PermissionLevel,
		Enabled:         vc.Enabled,
		TestMode:        vc.TestMode,
		HasCredentials:  vc.APIKey != "",
	}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListExchanges returns the configured venues, credentials redacted.
func (h *Handlers) HandleListExchanges(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	views := make([]venueView, 0, len(h.cfg.Exchanges))
	for _, vc := range h.cfg.Exchanges {
		views = append(views, viewOf(vc))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleAddExchange registers a new venue and persists it.
func (h *Handlers) HandleAddExchange(w http.ResponseWriter, r *http.Request) {
	var vc config.VenueConfig
	if err := json.NewDecoder(r.Body).Decode(&vc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := vc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.venues.Add(vc) {
		writeError(w, http.StatusBadRequest, "unsupported venue or invalid configuration")
		return
	}

	h.mu.Lock()
	h.cfg.AddExchange(vc)
	ok := h.persist(w)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.hub.Broadcast(newEvent(EventExchangeAdded, viewOf(vc)))
	writeJSON(w, http.StatusCreated, viewOf(vc))
}

// HandleGetExchange returns one venue, 404 when unknown.
func (h *Handlers) HandleGetExchange(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	h.mu.Lock()
	vc := h.cfg.GetExchange(id)
	h.mu.Unlock()
	if vc == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*vc))
}

// HandleRemoveExchange drops a venue from the registry and config.
func (h *Handlers) HandleRemoveExchange(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	h.mu.Lock()
	removed := h.cfg.RemoveExchange(id)
	ok := true
	if removed {
		ok = h.persist(w)
	}
	h.mu.Unlock()

	if !removed {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	if !ok {
		return
	}
	h.venues.Remove(id)

	h.hub.Broadcast(newEvent(EventExchangeRemoved, map[string]string{"venue_id": id}))
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// HandleTestExchange checks venue connectivity.
func (h *Handlers) HandleTestExchange(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.venues.Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	ok := h.venues.TestConnection(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

// HandleBalance returns venue balances.
func (h *Handlers) HandleBalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.venues.Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	writeJSON(w, http.StatusOK, h.venues.FetchBalance(r.Context(), id))
}

// HandleMarkets returns the venue's market list.
func (h *Handlers) HandleMarkets(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.venues.Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	markets := h.venues.FetchMarkets(r.Context(), id)
	if markets == nil {
		markets = []types.MarketInfo{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// HandleTicker returns one ticker. A venue fault maps to 400.
func (h *Handlers) HandleTicker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	if h.venues.Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	ticker := h.venues.FetchTicker(r.Context(), id, vars["symbol"])
	if ticker == nil {
		writeError(w, http.StatusBadRequest, "could not fetch ticker for "+vars["symbol"])
		return
	}
	writeJSON(w, http.StatusOK, ticker)
}

// HandleOrders lists orders, filtered by ?symbol= and ?status=open|closed|all
// (default open).
func (h *Handlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.venues.Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	var orders []types.Order
	switch status := r.URL.Query().Get("status"); status {
	case "", "open":
		orders = h.venues.FetchOpenOrders(r.Context(), id, symbol)
	case "closed":
		orders = h.venues.FetchClosedOrders(r.Context(), id, symbol)
	case "all":
		orders = h.venues.FetchOpenOrders(r.Context(), id, symbol)
		orders = append(orders, h.venues.FetchClosedOrders(r.Context(), id, symbol)...)
	default:
		writeError(w, http.StatusBadRequest, "status must be open, closed or all")
		return
	}
	if orders == nil {
		orders = []types.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

type createOrderRequest struct {
	Symbol string  `json:"symbol"`
	Type   string  `json:"type"`
	Side   string  `json:"side"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

// HandleCreateOrder places an order through the gated registry.
func (h *Handlers) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.venues.Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	if !h.venues.CheckPermission(id, types.ReadWrite) {
		writeError(w, http.StatusForbidden, "exchange does not permit trading")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "symbol and a positive amount are required")
		return
	}
	side := types.Side(req.Side)
	if side != types.Buy && side != types.Sell {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	typ := types.OrderType(req.Type)
	if typ == "" {
		typ = types.Limit
	}
	if typ != types.Limit && typ != types.Market {
		writeError(w, http.StatusBadRequest, "type must be limit or market")
		return
	}
	if typ == types.Limit && req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "limit orders need a positive price")
		return
	}

	order := h.venues.CreateOrder(r.Context(), id, req.Symbol, typ, side, req.Amount, req.Price)
	if order == nil {
		writeError(w, http.StatusBadRequest, "order rejected by exchange")
		return
	}

	h.hub.Broadcast(newEvent(EventOrderPlaced, order))
	writeJSON(w, http.StatusCreated, order)
}

// HandleCancelOrder cancels one order; symbol comes from ?symbol= for venues
// that need it.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	if h.venues.Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	if !h.venues.CheckPermission(id, types.ReadWrite) {
		writeError(w, http.StatusForbidden, "exchange does not permit trading")
		return
	}

	order := h.venues.CancelOrder(r.Context(), id, vars["order_id"], r.URL.Query().Get("symbol"))
	if order == nil {
		writeError(w, http.StatusBadRequest, "cancel rejected by exchange")
		return
	}

	h.hub.Broadcast(newEvent(EventOrderCancelled, order))
	writeJSON(w, http.StatusOK, order)
}

type withdrawRequest struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Address  string  `json:"address"`
	Tag      string  `json:"tag"`
}

// HandleWithdraw requests a withdrawal; needs the top permission level.
func (h *Handlers) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.venues.Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown exchange: "+id)
		return
	}
	if !h.venues.CheckPermission(id, types.ReadWriteWithdraw) {
		writeError(w, http.StatusForbidden, "exchange does not permit withdrawals")
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Currency == "" || req.Amount <= 0 || req.Address == "" {
		writeError(w, http.StatusBadRequest, "currency, address and a positive amount are required")
		return
	}

	wd := h.venues.Withdraw(r.Context(), id, req.Currency, req.Amount, req.Address, req.Tag)
	if wd == nil {
		writeError(w, http.StatusBadRequest, "withdrawal rejected by exchange")
		return
	}

	h.hub.Broadcast(newEvent(EventWithdrawal, wd))
	writeJSON(w, http.StatusOK, wd)
}

// HandleSupportedExchanges lists the venue ids this build can talk to.
func (h *Handlers) HandleSupportedExchanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, venue.SupportedVenues())
}

// HandleListStrategies returns all strategy descriptors.
func (h *Handlers) HandleListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.strategies.DescribeAll())
}

// HandleGetStrategy returns one descriptor, 404 when unknown.
func (h *Handlers) HandleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	desc, ok := h.strategies.Describe(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown strategy: "+id)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

type setActiveRequest struct {
	StrategyID string         `json:"strategy_id"`
	Params     map[string]any `json:"parameters"`
}

// HandleSetActiveStrategy selects and constructs the active strategy.
func (h *Handlers) HandleSetActiveStrategy(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StrategyID == "" {
		writeError(w, http.StatusBadRequest, "strategy_id is required")
		return
	}
	if _, ok := h.strategies.Describe(req.StrategyID); !ok {
		writeError(w, http.StatusNotFound, "unknown strategy: "+req.StrategyID)
		return
	}

	params := strategy.Params(req.Params)
	if params == nil {
		params = strategy.Params{}
	}
	h.mu.Lock()
	params = withGlobalDefaults(params, h.cfg.GlobalSettings)
	h.mu.Unlock()

	if err := h.strategies.SetActive(req.StrategyID, h.venues, params); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	h.cfg.ActiveStrategy = req.StrategyID
	h.cfg.StrategyParams = params
	ok := h.persist(w)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.hub.Broadcast(newEvent(EventStrategySet, map[string]any{"strategy_id": req.StrategyID}))
	writeJSON(w, http.StatusOK, h.strategies.ActiveStatus())
}

// withGlobalDefaults fills strategy params that default from global settings.
func withGlobalDefaults(params strategy.Params, settings config.GlobalSettings) strategy.Params {
	out := params.Clone()
	if _, ok := out["max_order_age_seconds"]; !ok {
		out["max_order_age_seconds"] = settings.Float("max_order_age_seconds", 86400)
	}
	return out
}

// HandleStartStrategy starts the active strategy.
func (h *Handlers) HandleStartStrategy(w http.ResponseWriter, r *http.Request) {
	if err := h.strategies.StartActive(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.hub.Broadcast(newEvent(EventStrategyStarted, h.strategies.ActiveStatus()))
	writeJSON(w, http.StatusOK, h.strategies.ActiveStatus())
}

// HandleStopStrategy stops the active strategy.
func (h *Handlers) HandleStopStrategy(w http.ResponseWriter, r *http.Request) {
	if err := h.strategies.StopActive(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.hub.Broadcast(newEvent(EventStrategyStopped, h.strategies.ActiveStatus()))
	writeJSON(w, http.StatusOK, h.strategies.ActiveStatus())
}

// HandleStrategyStatus reports the active strategy's state.
func (h *Handlers) HandleStrategyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.strategies.ActiveStatus())
}

// configView is the persisted config with venue credentials redacted.
type configView struct {
	Exchanges      []venueView           `json:"exchanges"`
	ActiveStrategy string                `json:"active_strategy,omitempty"`
	StrategyParams map[string]any        `json:"strategy_params"`
	GlobalSettings config.GlobalSettings `json:"global_settings"`
}

// HandleGetConfig returns the redacted configuration.
func (h *Handlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	view := configView{
		Exchanges:      make([]venueView, 0, len(h.cfg.Exchanges)),
		ActiveStrategy: h.cfg.ActiveStrategy,
		StrategyParams: h.cfg.StrategyParams,
		GlobalSettings: h.cfg.GlobalSettings,
	}
	for _, vc := range h.cfg.Exchanges {
		view.Exchanges = append(view.Exchanges, viewOf(vc))
	}
	writeJSON(w, http.StatusOK, view)
}

type updateConfigRequest struct {
	GlobalSettings map[string]any `json:"global_settings"`
}

// HandleUpdateConfig merges new global settings and persists.
func (h *Handlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.GlobalSettings) == 0 {
		writeError(w, http.StatusBadRequest, "global_settings is required")
		return
	}

	h.mu.Lock()
	for k, v := range req.GlobalSettings {
		h.cfg.GlobalSettings[k] = v
	}
	ok := h.persist(w)
	settings := h.cfg.GlobalSettings
	h.mu.Unlock()
	if !ok {
		return
	}

	h.hub.Broadcast(newEvent(EventConfigUpdated, settings))
	writeJSON(w, http.StatusOK, settings)
}

// HandleWebSocket upgrades to the dashboard event stream.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}
