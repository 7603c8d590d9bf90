package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rangemark.org/internal/gateway"
	"rangemark.org/internal/order"
)

type checkoutRequest struct {
	CustomerID string       `json:"customer_id"`
	Lines      []order.Line `json:"lines"`
	Currency   string       `json:"currency"`
	Payment    struct {
		Token string `json:"token"`
	} `json:"payment"`
	FFLLicense string `json:"ffl_license,omitempty"`
}

type orderResponse struct {
	Order        *order.Order               `json:"order"`
	Transactions []order.PaymentTransaction `json:"transactions,omitempty"`
	AsOf         time.Time                  `json:"as_of"`
}

type attachFFLRequest struct {
	LicenseNumber string `json:"license_number"`
}

type overrideHoldRequest struct {
	Reason string `json:"reason"`
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	o, err := a.checkout.Checkout(r.Context(), order.CheckoutRequest{
		CustomerID: req.CustomerID,
		Lines:      req.Lines,
		Currency:   req.Currency,
		Payment:    gateway.PaymentDetails{Token: req.Payment.Token},
		FFLLicense: req.FFLLicense,
	})
	if err != nil {
		// A capture failure still created the order; report it with the
		// order body so the storefront can poll the retry.
		if o != nil && o.Status == order.StatusCaptureFailed {
			writeJSON(w, http.StatusAccepted, orderResponse{Order: o, AsOf: time.Now().UTC()})
			return
		}
		handleOrderError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, orderResponse{Order: o, AsOf: time.Now().UTC()})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	o, txs, err := a.checkout.GetOrder(r.Context(), id)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, Transactions: txs, AsOf: time.Now().UTC()})
}

func (a *API) handleAttachFFL(w http.ResponseWriter, r *http.Request) {
	var req attachFFLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.staff.AttachFFL(r.Context(), chi.URLParam(r, "orderID"), req.LicenseNumber)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, AsOf: time.Now().UTC()})
}

func (a *API) handleVerifyFFL(w http.ResponseWriter, r *http.Request) {
	o, err := a.staff.VerifyFFL(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, AsOf: time.Now().UTC()})
}

func (a *API) handleOverrideHold(w http.ResponseWriter, r *http.Request) {
	var req overrideHoldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.staff.OverrideHold(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, AsOf: time.Now().UTC()})
}

func (a *API) handleForceVoid(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.staff.ForceVoid(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, AsOf: time.Now().UTC()})
}

func (a *API) handleRetryCapture(w http.ResponseWriter, r *http.Request) {
	o, err := a.staff.RetryCapture(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, AsOf: time.Now().UTC()})
}

func (a *API) handleFulfill(w http.ResponseWriter, r *http.Request) {
	o, err := a.staff.Machine.Fulfill(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, AsOf: time.Now().UTC()})
}

func handleOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrInvalidCheckout), errors.Is(err, order.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, gateway.ErrDeclined):
		writeError(w, r, http.StatusPaymentRequired, "payment declined")
	case errors.Is(err, order.ErrPreconditionNotMet),
		errors.Is(err, order.ErrFFLInactive),
		errors.Is(err, order.ErrNoFFLAttached):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		writeError(w, r, http.StatusBadGateway, "payment gateway unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
