package treasury

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/platform/httpx"
	"github.com/sealforge-erp/sealforge-erp/internal/shared"
)

// Handler manages treasury endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers treasury routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.balances)
	r.Get("/accounts", h.accounts)
	r.Get("/accounts/{id}/balance", h.accountBalance)
	r.Get("/transactions", h.listTransactions)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/transactions", h.postTransaction)
		r.Post("/transfer", h.transfer)
		r.Delete("/transactions/{id}", h.reverseTransaction)
		r.Patch("/transactions/{id}", h.editTransaction)
	})
}

type postTransactionRequest struct {
	AccountID   string          `json:"account_id" validate:"required"`
	Kind        string          `json:"kind" validate:"required,oneof=income expense transfer_in transfer_out"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

func (h *Handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req postTransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	id, err := h.service.Post(r.Context(), PostInput{
		AccountID:   AccountID(req.AccountID),
		Kind:        EntryKind(req.Kind),
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		h.logger.Error("post ledger entry", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entry_id": id})
}

type transferRequest struct {
	From     string          `json:"from" validate:"required"`
	To       string          `json:"to" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"required"`
	Notes    string          `json:"notes"`
	Actor    string          `json:"actor" validate:"required"`
	Password string          `json:"password"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	debitID, creditID, err := h.service.Transfer(r.Context(), TransferInput{
		From:     AccountID(req.From),
		To:       AccountID(req.To),
		Amount:   req.Amount,
		Notes:    req.Notes,
		Actor:    req.Actor,
		Password: req.Password,
	})
	if err != nil {
		h.logger.Error("transfer", slog.Any("error", err), slog.String("from", req.From), slog.String("to", req.To))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"debit_entry_id":  debitID,
		"credit_entry_id": creditID,
	})
}

type reverseRequest struct {
	Actor string `json:"actor" validate:"required"`
}

func (h *Handler) reverseTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	counterID, err := h.service.Reverse(r.Context(), id, req.Actor)
	if err != nil {
		h.logger.Error("reverse entry", slog.Any("error", err), slog.String("entry_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"counter_entry_id": counterID})
}

type editTransactionRequest struct {
	Description *string `json:"description"`
	Reference   *string `json:"reference"`
	Actor       string  `json:"actor" validate:"required"`
	Password    string  `json:"password" validate:"required"`
}

func (h *Handler) editTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req editTransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.EditCosmetic(r.Context(), id, req.Description, req.Reference, req.Actor, req.Password); err != nil {
		h.logger.Error("edit entry", slog.Any("error", err), slog.String("entry_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.Balances(r.Context())
	if err != nil {
		h.logger.Error("get balances", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) accounts(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Registry().All())
}

func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	account := AccountID(chi.URLParam(r, "id"))
	balance, err := h.service.Balance(r.Context(), account)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": account, "balance": balance})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrAlreadyReversed), errors.Is(err, shared.ErrLockNotAcquired):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnknownAccount), errors.Is(err, ErrSameAccount), errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter := EntryFilter{
		AccountID: AccountID(r.URL.Query().Get("account_id")),
		Reference: r.URL.Query().Get("reference"),
	}
	entries, err := h.service.Entries(r.Context(), filter)
	if err != nil {
		h.logger.Error("list entries", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
