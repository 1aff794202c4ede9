package api

import (
	"context"
	"net/http"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
)

type paymentInput struct {
	Property *uint            `json:"property"`
	Year     *int             `json:"year"`
	Month    *int             `json:"month"`
	Amount   *decimal.Decimal `json:"amount"`
	PaidAt   *string          `json:"paid_at"`
	Comment  *string          `json:"comment"`
}

func (h *Handler) applyPayment(ctx context.Context, userID string, in paymentInput, p *storage.Payment, partial bool) error {
	verr := &billing.ValidationError{}
	if in.Property != nil {
		prop, err := h.ownedProperty(ctx, userID, *in.Property)
		if err != nil {
			return err
		}
		if prop == nil {
			verr.Add("property", "You cannot add payments to a property you do not own.")
		}
		p.PropertyID = *in.Property
	} else if !partial {
		verr.Add("property", requiredMsg)
	}
	if in.Year != nil {
		p.Year = *in.Year
		if p.Year < 1 || p.Year > 9999 {
			verr.Add("year", "Ensure this value is between 1 and 9999.")
		}
	} else if !partial {
		verr.Add("year", requiredMsg)
	}
	if in.Month != nil {
		p.Month = *in.Month
		checkMonth(verr, "month", p.Month)
	} else if !partial {
		verr.Add("month", requiredMsg)
	}
	if in.Amount != nil {
		p.Amount = *in.Amount
		checkDecimal(verr, "amount", p.Amount, 12, 2)
	} else if !partial {
		verr.Add("amount", requiredMsg)
	}
	if in.PaidAt != nil || !partial {
		p.PaidAt = requireDate(verr, "paid_at", in.PaidAt)
	}
	if in.Comment != nil {
		p.Comment = *in.Comment
	} else if !partial {
		p.Comment = ""
	}
	return failed(verr)
}

// ListPayments returns payments for the caller's properties.
// @Summary List payments
// @Tags payments
// @Param property query int false "Property id"
// @Router /api/payments [get]
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	owned, err := h.ownedPropertyIDs(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	f := storage.PaymentFilter{PropertyIDs: owned}
	id, ok, err := queryID(r, "property")
	if err != nil {
		writeValidation(w, billing.Invalid("property", "A valid integer is required."))
		return
	}
	if ok {
		f.PropertyIDs = narrow(owned, id)
	}
	payments, err := h.st.ListPayments(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]paymentDTO, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var in paymentInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	userID, _ := caller(r)
	var p storage.Payment
	if err := h.applyPayment(r.Context(), userID, in, &p, false); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.st.CreatePayment(r.Context(), &p); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPayment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPayment(w, r)
	if !ok {
		return
	}
	var in paymentInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	userID, _ := caller(r)
	if err := h.applyPayment(r.Context(), userID, in, p, r.Method == http.MethodPatch); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.st.UpdatePayment(r.Context(), p); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPayment(w, r)
	if !ok {
		return
	}
	if err := h.st.DeletePayment(r.Context(), p.ID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadPayment(w http.ResponseWriter, r *http.Request) (*storage.Payment, bool) {
	id, ok := urlID(r)
	if !ok {
		notFound(w)
		return nil, false
	}
	p, err := h.st.GetPayment(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if p == nil {
		notFound(w)
		return nil, false
	}
	userID, _ := caller(r)
	prop, err := h.ownedProperty(r.Context(), userID, p.PropertyID)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if prop == nil {
		notFound(w)
		return nil, false
	}
	return p, true
}
