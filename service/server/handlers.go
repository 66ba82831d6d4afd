package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/b3trbeach/storefront/service/checkout"
	"github.com/b3trbeach/storefront/service/db"
	"github.com/b3trbeach/storefront/service/thor"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultPageSize    = 50
	maxPageSize        = 500
)

// balanceFetcher is the governed balance surface the balance endpoint needs.
// The checkout tracker satisfies it; serving from the tracker keeps the
// endpoint inside the same refetch cooldown and snapshot cache the checkout
// path uses, so polling clients cannot fetch past the bound.
type balanceFetcher interface {
	Balance(ctx context.Context, addr common.Address) (*thor.BalanceSnapshot, error)
	Energy(ctx context.Context, addr common.Address) (*thor.BalanceSnapshot, error)
}

// handleCreateProduct returns a handler that adds a product to the catalog.
// POST /api/v1/products
func handleCreateProduct(store *db.Store, decimals int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string  `json:"name"`
			Description string  `json:"description"`
			PriceUSD    float64 `json:"price_usd"`
			PriceToken  string  `json:"price_token"`
			SoldOut     bool    `json:"sold_out"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			writeError(w, "name is required", http.StatusBadRequest)
			return
		}
		if err := validatePrice(req.PriceToken, decimals); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		product, err := store.CreateProduct(r.Context(), db.CreateProductParams{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			PriceUSD:    req.PriceUSD,
			PriceToken:  req.PriceToken,
			SoldOut:     req.SoldOut,
		})
		if err != nil {
			logger.Error("failed to create product", "name", req.Name, "error", err)
			writeError(w, "failed to create product", http.StatusInternalServerError)
			return
		}

		logger.Info("product created", "id", product.ID, "name", product.Name)
		writeJSON(w, product, http.StatusCreated)
	})
}

// handleListProducts returns a handler that lists the catalog.
// GET /api/v1/products
func handleListProducts(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		products, err := store.ListProducts(r.Context())
		if err != nil {
			logger.Error("failed to list products", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if products == nil {
			products = []*db.Product{}
		}
		writeJSON(w, products, http.StatusOK)
	})
}

// handleGetProduct returns a handler that retrieves one product.
// GET /api/v1/products/{id}
func handleGetProduct(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		product, err := store.GetProduct(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "product not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get product", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, product, http.StatusOK)
	})
}

// handleUpdateProduct returns a handler that replaces a product's fields.
// PUT /api/v1/products/{id}
func handleUpdateProduct(store *db.Store, decimals int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var req struct {
			Name        string  `json:"name"`
			Description string  `json:"description"`
			PriceUSD    float64 `json:"price_usd"`
			PriceToken  string  `json:"price_token"`
			SoldOut     bool    `json:"sold_out"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			writeError(w, "name is required", http.StatusBadRequest)
			return
		}
		if err := validatePrice(req.PriceToken, decimals); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		product, err := store.UpdateProduct(r.Context(), db.UpdateProductParams{
			ID:          id,
			Name:        req.Name,
			Description: req.Description,
			PriceUSD:    req.PriceUSD,
			PriceToken:  req.PriceToken,
			SoldOut:     req.SoldOut,
		})
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "product not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to update product", "id", id, "error", err)
			writeError(w, "failed to update product", http.StatusInternalServerError)
			return
		}

		logger.Info("product updated", "id", id)
		writeJSON(w, product, http.StatusOK)
	})
}

// handleDeleteProduct returns a handler that removes a product.
// DELETE /api/v1/products/{id}
func handleDeleteProduct(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		err := store.DeleteProduct(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "product not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to delete product", "id", id, "error", err)
			writeError(w, "failed to delete product", http.StatusInternalServerError)
			return
		}

		logger.Info("product deleted", "id", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleSubmitCheckout returns a handler that submits a payment for a
// product and begins tracking it.
// POST /api/v1/checkout
func handleSubmitCheckout(tracker *checkout.Tracker, store *db.Store, signer thor.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductID    string         `json:"product_id"`
			PayerAddress string         `json:"payer_address"`
			Buyer        checkout.Buyer `json:"buyer"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !common.IsHexAddress(req.PayerAddress) {
			writeError(w, "invalid payer address", http.StatusBadRequest)
			return
		}

		product, err := store.GetProduct(r.Context(), req.ProductID)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "product not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to load product", "id", req.ProductID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if product.SoldOut {
			writeError(w, "product is sold out", http.StatusConflict)
			return
		}

		pending, err := tracker.Submit(r.Context(), checkout.SubmitParams{
			Signer: signer,
			Payer:  common.HexToAddress(req.PayerAddress),
			Item:   product.Name,
			Price:  product.PriceToken,
			Buyer:  req.Buyer,
		})
		if err != nil {
			writeCheckoutError(w, logger, err)
			return
		}

		logger.Info("checkout submitted",
			"tx_id", pending.TxID,
			"product", product.Name,
			"payer", pending.Payer,
		)
		writeJSON(w, pending, http.StatusAccepted)
	})
}

// writeCheckoutError maps tracker errors to HTTP responses.
func writeCheckoutError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var subErr *thor.SubmissionError
	switch {
	case errors.Is(err, checkout.ErrCheckoutInFlight):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, checkout.ErrInsufficientBalance),
		errors.Is(err, checkout.ErrInsufficientEnergy):
		writeError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, checkout.ErrBalanceUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &subErr):
		logger.Error("transaction submission failed", "reason", subErr.Reason, "error", err)
		writeError(w, subErr.Reason, http.StatusBadGateway)
	default:
		logger.Error("checkout failed", "error", err)
		writeError(w, "checkout failed", http.StatusInternalServerError)
	}
}

// handleCheckoutStatus returns a handler that reports the tracker state.
// GET /api/v1/checkout
func handleCheckoutStatus(tracker *checkout.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, tracker.State(), http.StatusOK)
	})
}

// handleAbandonCheckout returns a handler that stops tracking the active
// transaction.
// DELETE /api/v1/checkout
func handleAbandonCheckout(tracker *checkout.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tracker.Abandon() {
			writeError(w, "no active checkout", http.StatusNotFound)
			return
		}
		logger.Info("checkout abandoned")
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleListPurchases returns a handler that lists purchase history.
// GET /api/v1/purchases?limit={n}&offset={n}
func handleListPurchases(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		purchases, err := store.ListPurchases(r.Context(), limit, offset)
		if err != nil {
			logger.Error("failed to list purchases", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if purchases == nil {
			purchases = []*db.Purchase{}
		}
		writeJSON(w, purchases, http.StatusOK)
	})
}

// handleGetPurchase returns a handler that retrieves a purchase by its
// transaction id.
// GET /api/v1/purchases/{tx_id}
func handleGetPurchase(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txID := r.PathValue("tx_id")
		purchase, err := store.GetPurchaseByTxID(r.Context(), txID)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "purchase not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get purchase", "tx_id", txID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, purchase, http.StatusOK)
	})
}

// handleCreateRegistration returns a handler that records an event signup.
// POST /api/v1/registrations
func handleCreateRegistration(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EventName     string `json:"event_name"`
			AttendeeName  string `json:"attendee_name"`
			AttendeeEmail string `json:"attendee_email"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.EventName == "" || req.AttendeeName == "" || req.AttendeeEmail == "" {
			writeError(w, "event_name, attendee_name and attendee_email are required", http.StatusBadRequest)
			return
		}
		if !strings.Contains(req.AttendeeEmail, "@") {
			writeError(w, "invalid attendee_email", http.StatusBadRequest)
			return
		}

		reg, err := store.CreateRegistration(r.Context(), db.CreateRegistrationParams{
			ID:            uuid.NewString(),
			EventName:     req.EventName,
			AttendeeName:  req.AttendeeName,
			AttendeeEmail: req.AttendeeEmail,
		})
		if err != nil {
			logger.Error("failed to create registration", "event", req.EventName, "error", err)
			writeError(w, "failed to create registration", http.StatusInternalServerError)
			return
		}

		logger.Info("registration created", "event", reg.EventName, "attendee", reg.AttendeeName)
		writeJSON(w, reg, http.StatusCreated)
	})
}

// handleListRegistrations returns a handler that lists signups for an event.
// GET /api/v1/registrations?event={name}
func handleListRegistrations(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event := r.URL.Query().Get("event")
		if event == "" {
			writeError(w, "event query parameter is required", http.StatusBadRequest)
			return
		}

		regs, err := store.ListRegistrations(r.Context(), event)
		if err != nil {
			logger.Error("failed to list registrations", "event", event, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if regs == nil {
			regs = []*db.Registration{}
		}
		writeJSON(w, regs, http.StatusOK)
	})
}

// balanceResponse reports an account's token and energy balances. A missing
// balance means the account was unknown to the node, not that it holds zero.
type balanceResponse struct {
	Address string `json:"address"`
	Token   string `json:"token_balance,omitempty"`
	Energy  string `json:"energy_balance,omitempty"`
	Known   bool   `json:"known"`
}

// handleGetBalance returns a handler that reports an account's balances
// through the shared refetch governor. Inside the cooldown it serves the
// cached snapshot, and a node that cannot be reached degrades to an unknown
// balance rather than an error response.
// GET /api/v1/balance/{address}
func handleGetBalance(chain balanceFetcher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("address")
		if !common.IsHexAddress(raw) {
			writeError(w, "invalid address", http.StatusBadRequest)
			return
		}
		addr := common.HexToAddress(raw)

		resp := balanceResponse{Address: strings.ToLower(addr.Hex())}

		balance, err := chain.Balance(r.Context(), addr)
		if err != nil {
			logger.Warn("token balance unavailable", "address", raw, "error", err)
		}
		if balance != nil {
			resp.Known = true
			resp.Token = balance.Display
		}

		energy, err := chain.Energy(r.Context(), addr)
		if err != nil {
			logger.Warn("energy balance unavailable", "address", raw, "error", err)
		} else if energy != nil {
			resp.Energy = energy.Display
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// decodeBody decodes a size-limited JSON request body.
func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validatePrice checks a display-unit price string against the configured
// token decimals, so the catalog never accepts a price the checkout later
// fails to parse.
func validatePrice(price string, decimals int) error {
	if price == "" {
		return fmt.Errorf("price_token is required")
	}
	if _, err := thor.ParseUnits(price, decimals); err != nil {
		return fmt.Errorf("invalid price_token: %w", err)
	}
	return nil
}

// parsePagination reads limit/offset query parameters with defaults.
func parsePagination(r *http.Request) (limit, offset int32, err error) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 1 || n > maxPageSize {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
		limit = int32(n)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("offset must be non-negative")
		}
		offset = int32(n)
	}
	return limit, offset, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
