package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/config"
	"github.com/bitmint/exchange-core/internal/engine"
	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/events"
	"github.com/bitmint/exchange-core/internal/events/kafka"
	"github.com/bitmint/exchange-core/internal/funding"
	"github.com/bitmint/exchange-core/internal/interfaces"
	"github.com/bitmint/exchange-core/internal/ledger"
	"github.com/bitmint/exchange-core/internal/models"
	"github.com/bitmint/exchange-core/internal/storage/memory"
	"github.com/bitmint/exchange-core/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var store interfaces.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("open database", "error", err)
			os.Exit(1)
		}
		store, err = postgres.NewStore(db)
		if err != nil {
			slog.Error("apply schema", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		store = memory.NewStore()
	}

	var pub interfaces.EventPublisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = kafka.NewPublisher(cfg.KafkaBrokers)
	}

	led := ledger.New(store)
	eng := engine.New(store, led, pub, engine.Config{
		MaxFeeRate:      cfg.MaxFeeRate,
		SlippageBuffer:  cfg.SlippageBuffer,
		MaxFillsPerPass: cfg.MaxFillsPerPass,
	})
	fund := funding.New(store, led, pub)

	seedMarket(store)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	http.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			UserID   string `json:"user_id"`
			Market   string `json:"market"`
			Side     string `json:"side"`
			Type     string `json:"type"`
			Price    string `json:"price"`
			Quantity string `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		price := amount.Zero()
		if req.Price != "" {
			var err error
			if price, err = amount.Parse(req.Price); err != nil {
				http.Error(w, "invalid price", http.StatusBadRequest)
				return
			}
		}
		qty, err := amount.Parse(req.Quantity)
		if err != nil {
			http.Error(w, "invalid quantity", http.StatusBadRequest)
			return
		}

		result, err := eng.PlaceOrder(r.Context(), engine.PlaceOrderRequest{
			UserID:   req.UserID,
			Market:   req.Market,
			Side:     models.OrderSide(req.Side),
			Type:     models.OrderType(req.Type),
			Price:    price,
			Quantity: qty,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(struct {
			OrderID string             `json:"order_id"`
			Status  models.OrderStatus `json:"status"`
			Fills   []models.Execution `json:"fills"`
		}{
			OrderID: result.Order.ID.String(),
			Status:  result.Order.Status(),
			Fills:   result.Fills,
		})
	})

	http.HandleFunc("/orders/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			OrderID string `json:"order_id"`
			UserID  string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		orderID, err := uuid.Parse(req.OrderID)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := eng.CancelOrder(r.Context(), orderID, req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			OrderID string             `json:"order_id"`
			Status  models.OrderStatus `json:"status"`
		}{order.ID.String(), order.Status()})
	})

	http.HandleFunc("/accounts/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is a mandatory field", http.StatusBadRequest)
			return
		}

		balances, err := led.Balances(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			UserID   string               `json:"user_id"`
			Balances []models.BalanceView `json:"balances"`
		}{userID, balances})
	})

	http.HandleFunc("/executions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		market := r.URL.Query().Get("market")
		if market == "" {
			http.Error(w, "market is a mandatory field", http.StatusBadRequest)
			return
		}

		executions, err := store.ExecutionsByMarket(r.Context(), market, 100)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(executions)
	})

	http.HandleFunc("/deposits", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			UserID string `json:"user_id"`
			Asset  string `json:"asset"`
			Amount string `json:"amount"`
			TxHash string `json:"tx_hash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		amt, err := amount.Parse(req.Amount)
		if err != nil {
			http.Error(w, "invalid amount", http.StatusBadRequest)
			return
		}

		if err := fund.Deposit(r.Context(), req.UserID, req.Asset, amt, req.TxHash); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"credited"}`))
	})

	slog.Info("starting server", "addr", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, nil); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// seedMarket makes sure the default market exists so a fresh instance is
// usable immediately.
func seedMarket(store interfaces.Store) {
	err := store.SaveMarket(context.Background(), models.Market{
		ID:           getenvDefault("MARKET_ID", "BTC-USDT"),
		BaseAsset:    getenvDefault("MARKET_BASE", "BTC"),
		QuoteAsset:   getenvDefault("MARKET_QUOTE", "USDT"),
		MakerFeeRate: amount.MustParse("0.001"),
		TakerFeeRate: amount.MustParse("0.002"),
		Enabled:      true,
	})
	if err != nil {
		slog.Error("seed market", "error", err)
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.CodeOf(err) {
	case errs.CodeInvalidInput:
		status = http.StatusBadRequest
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeInsufficientBalance, errs.CodeLiquidityUnavailable:
		status = http.StatusUnprocessableEntity
	case errs.CodeMarketDisabled, errs.CodeOrderState:
		status = http.StatusConflict
	case errs.CodeUnauthorized:
		status = http.StatusForbidden
	case errs.CodeUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{string(errs.CodeOf(err)), err.Error()})
}
