package api

import (
	"net/http"
	"sort"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
)

// ListMonthlyCharges returns the caller's charges ordered by year and month.
// @Summary List monthly charges
// @Tags charges
// @Param property query int false "Property id"
// @Param year query int false "Year"
// @Param month query int false "Month"
// @Router /api/monthly-charges [get]
func (h *Handler) ListMonthlyCharges(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	owned, err := h.ownedPropertyIDs(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	f := storage.ChargeFilter{PropertyIDs: owned}

	verr := &billing.ValidationError{}
	if id, ok, err := queryID(r, "property"); err != nil {
		verr.Add("property", "A valid integer is required.")
	} else if ok {
		f.PropertyIDs = narrow(owned, id)
	}
	q := r.URL.Query()
	if f.Year, err = parseIntParam(q.Get("year"), 0); err != nil {
		verr.Add("year", "A valid integer is required.")
	}
	if f.Month, err = parseIntParam(q.Get("month"), 0); err != nil {
		verr.Add("month", "A valid integer is required.")
	}
	if err := failed(verr); err != nil {
		fail(w, r, err)
		return
	}

	charges, err := h.st.ListMonthlyCharges(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	sort.SliceStable(charges, func(i, j int) bool {
		pi := storage.Period{Year: charges[i].Year, Month: charges[i].Month}
		pj := storage.Period{Year: charges[j].Year, Month: charges[j].Month}
		return pi.Index() < pj.Index()
	})
	out := make([]chargeDTO, 0, len(charges))
	for _, c := range charges {
		out = append(out, toChargeDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetMonthlyCharge(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		notFound(w)
		return
	}
	c, err := h.st.GetMonthlyCharge(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if c == nil {
		notFound(w)
		return
	}
	userID, _ := caller(r)
	p, err := h.ownedProperty(r.Context(), userID, c.PropertyID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if p == nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*c))
}
