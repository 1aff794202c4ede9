package api

import (
	"net/http"
	"strings"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
)

// Analytics aggregates the caller's monthly charges over a period.
// @Summary Analytics report
// @Tags analytics
// @Param property query int false "Property id"
// @Param properties query string false "Comma separated property ids"
// @Param resource_type query string false "Resource type"
// @Param start_year query int false "Defaults to last year"
// @Param start_month query int false "Defaults to 1"
// @Param end_year query int false "Defaults to this year"
// @Param end_month query int false "Defaults to 12"
// @Success 200 {object} billing.Report
// @Router /api/analytics [get]
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	q := r.URL.Query()
	verr := &billing.ValidationError{}
	query := billing.Query{OwnerID: userID}

	if raw := strings.TrimSpace(q.Get("properties")); raw != "" {
		ids, err := parseIDList(raw)
		if err != nil {
			verr.Add("properties", "Expected a comma separated list of ids.")
		}
		query.PropertyIDs = ids
	} else if id, ok, err := queryID(r, "property"); err != nil {
		verr.Add("property", "A valid integer is required.")
	} else if ok {
		query.PropertyIDs = []uint{id}
	}

	if rt := q.Get("resource_type"); rt != "" {
		query.ResourceType = storage.ResourceType(rt)
		checkResource(verr, "resource_type", query.ResourceType)
	}

	year := h.now().Year()
	intParam := func(name string, fallback int) int {
		v, err := parseIntParam(q.Get(name), fallback)
		if err != nil {
			verr.Add(name, "A valid integer is required.")
		}
		return v
	}
	query.Start = storage.Period{Year: intParam("start_year", year-1), Month: intParam("start_month", 1)}
	query.End = storage.Period{Year: intParam("end_year", year), Month: intParam("end_month", 12)}
	if _, bad := verr.Fields["start_month"]; !bad {
		checkMonth(verr, "start_month", query.Start.Month)
	}
	if _, bad := verr.Fields["end_month"]; !bad {
		checkMonth(verr, "end_month", query.End.Month)
	}
	if err := failed(verr); err != nil {
		fail(w, r, err)
		return
	}

	rep, err := h.billing.Analytics(r.Context(), query)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Forecast estimates next month's bill for one owned property.
// @Summary Forecast
// @Tags analytics
// @Param property query int true "Property id"
// @Router /api/analytics/forecast [get]
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	id, ok, err := queryID(r, "property")
	if err != nil {
		writeValidation(w, billing.Invalid("property", "A valid integer is required."))
		return
	}
	if !ok {
		writeValidation(w, billing.Invalid("property", "This query parameter is required."))
		return
	}
	userID, _ := caller(r)
	p, err := h.ownedProperty(r.Context(), userID, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if p == nil {
		notFound(w)
		return
	}
	amount, err := h.billing.Forecast(r.Context(), p.ID, billing.DefaultLookback)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"forecast_amount": amount.InexactFloat64()})
}
