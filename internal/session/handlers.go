package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler exposes the register command endpoints.
type Handler struct {
	Store    *Store
	Validate *validator.Validate
}

type addItemPayload struct {
	Product  cart.Product     `json:"product" validate:"required"`
	Variant  *cart.Variant    `json:"variant,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
}

type lineRef struct {
	ProductID  string  `json:"productId" validate:"required"`
	VariantKey *string `json:"variantKey,omitempty"`
}

func (l lineRef) key() cart.Key {
	k := cart.Key{ProductID: l.ProductID}
	if l.VariantKey != nil {
		k.VariantKey = *l.VariantKey
		k.HasVariant = true
	}
	return k
}

type quantityPayload struct {
	lineRef
	Quantity decimal.Decimal `json:"quantity"`
}

type itemDiscountPayload struct {
	lineRef
	Value     decimal.Decimal `json:"value"`
	IsPercent bool            `json:"isPercent"`
}

type billDiscountPayload struct {
	Value     decimal.Decimal `json:"value"`
	IsPercent bool            `json:"isPercent"`
}

type chargesPayload struct {
	Amount decimal.Decimal `json:"amount"`
}

type loyaltyPayload struct {
	Points int64 `json:"points"`
}

type customerPayload struct {
	Customer *CustomerRef `json:"customer"`
}

type paymentPayload struct {
	Mode           PaymentMode     `json:"mode" validate:"required"`
	Status         PaymentStatus   `json:"status" validate:"required"`
	AmountReceived decimal.Decimal `json:"amountReceived"`
}

type remarksPayload struct {
	Remarks string `json:"remarks"`
}

// List returns every open tab plus the active id.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"tabs":     h.Store.List(),
		"activeId": h.Store.ActiveID(),
	}})
}

// Create opens a fresh tab and activates it.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	bill := h.Store.NewTab(r.Context())
	common.JSON(w, http.StatusCreated, map[string]any{"data": bill})
}

// Activate switches the active tab.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	if err := h.Store.SetActive(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Store.Active()})
}

// Close removes a tab.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	if err := h.Store.CloseTab(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Store.Active()})
}

// Active returns the active tab.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Store.Active()})
}

// AddItem adds a resolved product or variant line to the active cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload addItemPayload
	if !h.decode(w, r, &payload) {
		return
	}
	var (
		bill Bill
		err  error
	)
	if payload.Variant != nil {
		qty := decimal.NewFromInt(1)
		if payload.Quantity != nil {
			qty = *payload.Quantity
		}
		bill, err = h.Store.AddVariant(r.Context(), payload.Product, *payload.Variant, qty)
	} else {
		bill, err = h.Store.AddProduct(r.Context(), payload.Product)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// UpdateItem replaces the quantity of a line in the active cart.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload quantityPayload
	if !h.decode(w, r, &payload) {
		return
	}
	bill, err := h.Store.SetQuantity(r.Context(), payload.key(), payload.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// RemoveItem deletes a line from the active cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	var payload lineRef
	if !h.decode(w, r, &payload) {
		return
	}
	bill, err := h.Store.RemoveItem(r.Context(), payload.key())
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// ItemDiscount applies a discount to a line of the active cart.
func (h *Handler) ItemDiscount(w http.ResponseWriter, r *http.Request) {
	var payload itemDiscountPayload
	if !h.decode(w, r, &payload) {
		return
	}
	bill, err := h.Store.ApplyItemDiscount(r.Context(), payload.key(), payload.Value, payload.IsPercent)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// BillDiscount applies the bill-level discount to the active tab.
func (h *Handler) BillDiscount(w http.ResponseWriter, r *http.Request) {
	var payload billDiscountPayload
	if !h.decode(w, r, &payload) {
		return
	}
	bill, err := h.Store.ApplyBillDiscount(r.Context(), payload.Value, payload.IsPercent)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// Charges replaces the additional charges on the active tab.
func (h *Handler) Charges(w http.ResponseWriter, r *http.Request) {
	var payload chargesPayload
	if !h.decode(w, r, &payload) {
		return
	}
	bill, err := h.Store.SetAdditionalCharges(r.Context(), payload.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// Loyalty redeems customer points against the active tab.
func (h *Handler) Loyalty(w http.ResponseWriter, r *http.Request) {
	var payload loyaltyPayload
	if !h.decode(w, r, &payload) {
		return
	}
	bill, err := h.Store.RedeemLoyalty(r.Context(), payload.Points)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// Customer attaches or detaches the customer on the active tab.
func (h *Handler) Customer(w http.ResponseWriter, r *http.Request) {
	var payload customerPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if payload.Customer != nil && h.Validate != nil {
		if err := h.Validate.Struct(payload.Customer); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid customer", map[string]any{"error": err.Error()})
			return
		}
	}
	bill, err := h.Store.SetCustomer(r.Context(), payload.Customer)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// Payment records the tender details on the active tab.
func (h *Handler) Payment(w http.ResponseWriter, r *http.Request) {
	var payload paymentPayload
	if !h.decode(w, r, &payload) {
		return
	}
	bill, err := h.Store.SetPayment(r.Context(), payload.Mode, payload.Status, payload.AmountReceived)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// Remarks replaces the internal notes on the active tab.
func (h *Handler) Remarks(w http.ResponseWriter, r *http.Request) {
	var payload remarksPayload
	if !h.decode(w, r, &payload) {
		return
	}
	bill, err := h.Store.SetRemarks(r.Context(), payload.Remarks)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(v); err != nil {
			var invalid *validator.InvalidValidationError
			if !errors.As(err, &invalid) {
				common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return false
			}
		}
	}
	return true
}

func tabID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid tab id", nil)
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, asAppError(err))
}

// asAppError maps the domain sentinels onto transport codes. Unmapped errors
// pass through and surface as internal.
func asAppError(err error) error {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		return common.NewAppError("INVALID_QUANTITY", "", http.StatusBadRequest, err)
	case errors.Is(err, cart.ErrInvalidPrice):
		return common.NewAppError("INVALID_PRICE", "", http.StatusBadRequest, err)
	case errors.Is(err, cart.ErrRequiresVariantSelection):
		return common.NewAppError("REQUIRES_VARIANT_SELECTION", "", http.StatusUnprocessableEntity, err)
	case errors.Is(err, cart.ErrLineNotFound):
		return common.NewAppError("LINE_NOT_FOUND", "", http.StatusNotFound, err)
	case errors.Is(err, ErrTabNotFound):
		return common.NewAppError("TAB_NOT_FOUND", "", http.StatusNotFound, err)
	case errors.Is(err, ErrCustomerRequired):
		return common.NewAppError("CUSTOMER_REQUIRED", "", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrLoyaltyOverRedemption):
		return common.NewAppError("LOYALTY_OVER_REDEMPTION", "", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrSubmissionInProgress):
		return common.NewAppError("SUBMISSION_IN_PROGRESS", "", http.StatusConflict, err)
	case errors.Is(err, ErrSessionClosed):
		return common.NewAppError("SESSION_CLOSED", "", http.StatusConflict, err)
	}
	return err
}
