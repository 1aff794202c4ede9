package api

import (
	"context"
	"net/http"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
)

type meterInput struct {
	Property     *uint        `json:"property"`
	ResourceType *string      `json:"resource_type"`
	Unit         *string      `json:"unit"`
	SerialNumber *string      `json:"serial_number"`
	InstalledAt  nullableDate `json:"installed_at"`
	IsActive     *bool        `json:"is_active"`
}

func (h *Handler) applyMeter(ctx context.Context, userID string, in meterInput, m *storage.Meter, partial bool) error {
	verr := &billing.ValidationError{}
	if in.Property != nil {
		p, err := h.ownedProperty(ctx, userID, *in.Property)
		if err != nil {
			return err
		}
		if p == nil {
			verr.Add("property", "You cannot add meters to a property you do not own.")
		}
		m.PropertyID = *in.Property
	} else if !partial {
		verr.Add("property", requiredMsg)
	}
	if in.ResourceType != nil {
		m.ResourceType = storage.ResourceType(*in.ResourceType)
		checkResource(verr, "resource_type", m.ResourceType)
	} else if !partial {
		verr.Add("resource_type", requiredMsg)
	}
	if in.Unit != nil {
		m.Unit = *in.Unit
		checkText(verr, "unit", m.Unit, 32, false)
	}
	if m.Unit == "" && m.ResourceType.Valid() {
		m.Unit = m.ResourceType.DefaultUnit()
	}
	if in.SerialNumber != nil {
		m.SerialNumber = *in.SerialNumber
		checkText(verr, "serial_number", m.SerialNumber, 100, false)
	} else if !partial {
		m.SerialNumber = ""
	}
	if in.InstalledAt.Set || !partial {
		m.InstalledAt = in.InstalledAt.resolve(verr, "installed_at")
	}
	if in.IsActive != nil {
		m.IsActive = *in.IsActive
	} else if !partial {
		m.IsActive = true
	}
	return failed(verr)
}

// ListMeters returns the meters of the caller's properties.
// @Summary List meters
// @Tags meters
// @Param property query int false "Property id"
// @Param resource_type query string false "Resource type"
// @Router /api/meters [get]
func (h *Handler) ListMeters(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	owned, err := h.ownedPropertyIDs(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	f := storage.MeterFilter{PropertyIDs: owned}
	propertyID, ok, err := queryID(r, "property")
	if err != nil {
		writeValidation(w, billing.Invalid("property", "A valid integer is required."))
		return
	}
	if ok {
		f.PropertyIDs = narrow(owned, propertyID)
	}
	if rt := r.URL.Query().Get("resource_type"); rt != "" {
		f.ResourceType = storage.ResourceType(rt)
		if !f.ResourceType.Valid() {
			fail(w, r, billing.ErrInvalidResource)
			return
		}
	}

	meters, err := h.st.ListMeters(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]meterDTO, 0, len(meters))
	for _, m := range meters {
		out = append(out, toMeterDTO(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateMeter(w http.ResponseWriter, r *http.Request) {
	var in meterInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	userID, _ := caller(r)
	var m storage.Meter
	if err := h.applyMeter(r.Context(), userID, in, &m, false); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.st.CreateMeter(r.Context(), &m); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMeterDTO(m))
}

func (h *Handler) GetMeter(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadMeter(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toMeterDTO(*m))
}

func (h *Handler) UpdateMeter(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadMeter(w, r)
	if !ok {
		return
	}
	var in meterInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	userID, _ := caller(r)
	if err := h.applyMeter(r.Context(), userID, in, m, r.Method == http.MethodPatch); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.st.UpdateMeter(r.Context(), m); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeterDTO(*m))
}

func (h *Handler) DeleteMeter(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadMeter(w, r)
	if !ok {
		return
	}
	if err := h.st.DeleteMeter(r.Context(), m.ID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadMeter(w http.ResponseWriter, r *http.Request) (*storage.Meter, bool) {
	id, ok := urlID(r)
	if !ok {
		notFound(w)
		return nil, false
	}
	userID, _ := caller(r)
	m, err := h.ownedMeter(r.Context(), userID, id)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if m == nil {
		notFound(w)
		return nil, false
	}
	return m, true
}
