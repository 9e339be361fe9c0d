package checkout

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/session"
)

// Handler exposes the checkout endpoint.
type Handler struct {
	Svc *Service
}

// Submit checks out the active tab and returns the upstream receipt.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Svc.SubmitActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"invoiceId":     receipt.InvoiceID,
		"invoiceNumber": receipt.InvoiceNumber,
		"activeTab":     h.Svc.Store.Active(),
	}})
}

func writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, asAppError(err))
}

// asAppError maps checkout outcomes onto transport codes. The transport code
// keeps the upstream message verbatim via SubmitError.
func asAppError(err error) error {
	var submitErr *SubmitError
	switch {
	case errors.Is(err, session.ErrCustomerRequired):
		return common.NewAppError("CUSTOMER_REQUIRED", "", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrEmptyCart):
		return common.NewAppError("EMPTY_CART", "", http.StatusUnprocessableEntity, err)
	case errors.Is(err, session.ErrSubmissionInProgress):
		return common.NewAppError("SUBMISSION_IN_PROGRESS", "", http.StatusConflict, err)
	case errors.Is(err, session.ErrSessionClosed):
		return common.NewAppError("SESSION_CLOSED", "", http.StatusConflict, err)
	case errors.Is(err, session.ErrTabNotFound):
		return common.NewAppError("TAB_NOT_FOUND", "", http.StatusNotFound, err)
	case errors.As(err, &submitErr):
		return common.NewAppError("CHECKOUT_TRANSPORT_FAILED", "", http.StatusBadGateway, submitErr)
	}
	return err
}
