package invoicing

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

	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/platform/httpx"
	"github.com/sealforge-erp/sealforge-erp/internal/shared"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
)

// Handler manages invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.listInvoices)
	r.Get("/invoices/archive", h.listArchive)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Get("/invoices/{id}/payments", h.listPayments)
	r.Get("/invoices/{id}/history", h.history)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/invoices", h.createInvoice)
		r.Put("/invoices/{id}", h.updateInvoice)
		r.Delete("/invoices/{id}/cancel", h.cancelInvoice)
		r.Put("/invoices/{id}/payment-method", h.changeMethod)
		r.Post("/invoices/{id}/restore", h.restoreInvoice)
		r.Post("/invoices/{id}/execute", h.executeCourier)
		r.Post("/invoices/{id}/revert/{snapshotID}", h.revertInvoice)
		r.Post("/payments", h.recordPayment)
	})
}

type invoiceItemRequest struct {
	Type              string                      `json:"type" validate:"required,oneof=manufactured local"`
	Quantity          int64                       `json:"quantity" validate:"required,gt=0"`
	UnitPrice         decimal.Decimal             `json:"unit_price"`
	SealInnerDiameter float64                     `json:"seal_inner_diameter"`
	SealOuterDiameter float64                     `json:"seal_outer_diameter"`
	SealHeightMM      decimal.Decimal             `json:"seal_height_mm"`
	Materials         []inventory.ConsumptionLine `json:"materials"`
	ProductID         *uuid.UUID                  `json:"product_id"`
}

func (r invoiceItemRequest) toItem() InvoiceItem {
	return InvoiceItem{
		Type:              ItemType(r.Type),
		Quantity:          r.Quantity,
		UnitPrice:         r.UnitPrice,
		SealInnerDiameter: r.SealInnerDiameter,
		SealOuterDiameter: r.SealOuterDiameter,
		SealHeightMM:      r.SealHeightMM,
		Materials:         r.Materials,
		ProductID:         r.ProductID,
	}
}

type createInvoiceRequest struct {
	IdempotencyKey string               `json:"idempotency_key" validate:"required"`
	CustomerID     uuid.UUID            `json:"customer_id" validate:"required"`
	Items          []invoiceItemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountType   string               `json:"discount_type" validate:"omitempty,oneof=fixed percentage"`
	DiscountValue  decimal.Decimal      `json:"discount_value"`
	PaymentMethod  string               `json:"payment_method" validate:"required"`
	Notes          string               `json:"notes"`
	Actor          string               `json:"actor" validate:"required"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	items := make([]InvoiceItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.toItem())
	}
	invoice, err := h.service.Create(r.Context(), CreateInput{
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
		Items:          items,
		DiscountType:   DiscountType(req.DiscountType),
		DiscountValue:  req.DiscountValue,
		Method:         PaymentMethod(req.PaymentMethod),
		Notes:          req.Notes,
		Actor:          req.Actor,
	})
	if err != nil {
		h.logger.Error("create invoice", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

type updateInvoiceRequest struct {
	Items         []invoiceItemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountType  string               `json:"discount_type" validate:"omitempty,oneof=fixed percentage"`
	DiscountValue decimal.Decimal      `json:"discount_value"`
	Actor         string               `json:"actor" validate:"required"`
	Password      string               `json:"password" validate:"required"`
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req updateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	items := make([]InvoiceItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.toItem())
	}
	invoice, err := h.service.Update(r.Context(), UpdateInput{
		ID:            id,
		Items:         items,
		DiscountType:  DiscountType(req.DiscountType),
		DiscountValue: req.DiscountValue,
		Password:      req.Password,
		Actor:         req.Actor,
	})
	if err != nil {
		h.logger.Error("update invoice", slog.Any("error", err), slog.String("invoice_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

type approvalRequest struct {
	Actor    string `json:"actor" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req approvalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.Cancel(r.Context(), id, req.Password, req.Actor); err != nil {
		h.logger.Error("cancel invoice", slog.Any("error", err), slog.String("invoice_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

type changeMethodRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
	Actor         string `json:"actor" validate:"required"`
	Password      string `json:"password" validate:"required"`
}

func (h *Handler) changeMethod(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req changeMethodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.ChangePaymentMethod(r.Context(), id, PaymentMethod(req.PaymentMethod), req.Password, req.Actor); err != nil {
		h.logger.Error("change payment method", slog.Any("error", err), slog.String("invoice_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": true})
}

type recordPaymentRequest struct {
	InvoiceID uuid.UUID       `json:"invoice_id" validate:"required"`
	Method    string          `json:"method" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Notes     string          `json:"notes"`
	Actor     string          `json:"actor" validate:"required"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	payment, err := h.service.RecordPayment(r.Context(), PaymentInput{
		InvoiceID: req.InvoiceID,
		Method:    PaymentMethod(req.Method),
		Amount:    req.Amount,
		Notes:     req.Notes,
		Actor:     req.Actor,
	})
	if err != nil {
		h.logger.Error("record payment", slog.Any("error", err), slog.String("invoice_id", req.InvoiceID.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) restoreInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req approvalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	invoice, warning, err := h.service.Restore(r.Context(), id, req.Password, req.Actor)
	if err != nil {
		h.logger.Error("restore invoice", slog.Any("error", err), slog.String("invoice_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice": invoice, "warning": warning})
}

func (h *Handler) executeCourier(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req struct {
		Actor string `json:"actor" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.ExecuteCourier(r.Context(), id, req.Actor); err != nil {
		h.logger.Error("execute courier", slog.Any("error", err), slog.String("invoice_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"executed": true})
}

func (h *Handler) revertInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	snapshotID, err := uuid.Parse(chi.URLParam(r, "snapshotID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid snapshot id")
		return
	}
	var req approvalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	invoice, err := h.service.Revert(r.Context(), id, snapshotID, req.Password, req.Actor)
	if err != nil {
		h.logger.Error("revert invoice", slog.Any("error", err), slog.String("invoice_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	invoice, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter := InvoiceFilter{
		Status: Status(r.URL.Query().Get("status")),
		Method: PaymentMethod(r.URL.Query().Get("payment_method")),
	}
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer id")
			return
		}
		filter.CustomerID = &id
	}
	invoices, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) listArchive(w http.ResponseWriter, r *http.Request) {
	archived, err := h.service.ListArchived(r.Context())
	if err != nil {
		h.logger.Error("list archive", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, archived)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	payments, err := h.service.Payments(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	snapshots, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshots)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotCancelled), errors.Is(err, ErrSnapshotNotFound),
		errors.Is(err, inventory.ErrLotNotFound), errors.Is(err, parties.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrDuplicate), errors.Is(err, ErrPartiallyPaid),
		errors.Is(err, ErrMethodMismatch),
		errors.Is(err, ErrOverPayment), errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, treasury.ErrInsufficientFunds), errors.Is(err, shared.ErrLockNotAcquired):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoItems), errors.Is(err, ErrInvalidItem), errors.Is(err, ErrInvalidDiscount),
		errors.Is(err, ErrUnknownMethod), errors.Is(err, treasury.ErrInvalidAmount),
		errors.Is(err, inventory.ErrInvalidLine), errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
