package api

import (
	"context"
	"net/http"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
)

type readingInput struct {
	Meter       *uint            `json:"meter"`
	Value       *decimal.Decimal `json:"value"`
	ReadingDate *string          `json:"reading_date"`
}

func (h *Handler) applyReading(ctx context.Context, userID string, in readingInput, rd *storage.Reading, partial bool) error {
	verr := &billing.ValidationError{}
	if in.Meter != nil {
		m, err := h.ownedMeter(ctx, userID, *in.Meter)
		if err != nil {
			return err
		}
		if m == nil {
			verr.Add("meter", "You cannot add readings to a meter you do not own.")
		}
		rd.MeterID = *in.Meter
	} else if !partial {
		verr.Add("meter", requiredMsg)
	}
	if in.Value != nil {
		rd.Value = *in.Value
		checkDecimal(verr, "value", rd.Value, 12, 3)
	} else if !partial {
		verr.Add("value", requiredMsg)
	}
	if in.ReadingDate != nil || !partial {
		rd.ReadingDate = requireDate(verr, "reading_date", in.ReadingDate)
	}
	return failed(verr)
}

func (h *Handler) readingDTO(ctx context.Context, rd storage.Reading) (readingDTO, error) {
	d, err := h.billing.DescribeReading(ctx, rd)
	if err != nil {
		return readingDTO{}, err
	}
	return toReadingDTO(rd, d), nil
}

// ListReadings returns the readings of the caller's meters.
// @Summary List readings
// @Tags readings
// @Param meter query int false "Meter id"
// @Param property query int false "Property id (alias meter__property)"
// @Router /api/readings [get]
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	owned, err := h.ownedPropertyIDs(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	f := storage.ReadingFilter{PropertyIDs: owned}
	for _, name := range []string{"meter__property", "property"} {
		id, ok, err := queryID(r, name)
		if err != nil {
			writeValidation(w, billing.Invalid(name, "A valid integer is required."))
			return
		}
		if ok {
			f.PropertyIDs = narrow(f.PropertyIDs, id)
		}
	}
	meterID, ok, err := queryID(r, "meter")
	if err != nil {
		writeValidation(w, billing.Invalid("meter", "A valid integer is required."))
		return
	}
	if ok {
		f.MeterID = meterID
	}

	readings, err := h.st.ListReadings(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]readingDTO, 0, len(readings))
	for _, rd := range readings {
		dto, err := h.readingDTO(r.Context(), rd)
		if err != nil {
			fail(w, r, err)
			return
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateReading stores a reading and charges its consumption to the month.
// @Summary Create reading
// @Tags readings
// @Accept json
// @Produce json
// @Success 201 {object} readingDTO
// @Router /api/readings [post]
func (h *Handler) CreateReading(w http.ResponseWriter, r *http.Request) {
	var in readingInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	userID, _ := caller(r)
	var rd storage.Reading
	if err := h.applyReading(r.Context(), userID, in, &rd, false); err != nil {
		fail(w, r, err)
		return
	}
	if _, err := h.billing.CreateReading(r.Context(), &rd); err != nil {
		fail(w, r, err)
		return
	}
	dto, err := h.readingDTO(r.Context(), rd)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) GetReading(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.loadReading(w, r)
	if !ok {
		return
	}
	dto, err := h.readingDTO(r.Context(), *rd)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// UpdateReading edits a reading. Monthly charges already accumulated are left as they are.
func (h *Handler) UpdateReading(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.loadReading(w, r)
	if !ok {
		return
	}
	var in readingInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	userID, _ := caller(r)
	if err := h.applyReading(r.Context(), userID, in, rd, r.Method == http.MethodPatch); err != nil {
		fail(w, r, err)
		return
	}
	rd.ReadingDate = billing.Day(rd.ReadingDate)
	if err := h.st.UpdateReading(r.Context(), rd); err != nil {
		fail(w, r, err)
		return
	}
	dto, err := h.readingDTO(r.Context(), *rd)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) DeleteReading(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.loadReading(w, r)
	if !ok {
		return
	}
	if err := h.st.DeleteReading(r.Context(), rd.ID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadReading(w http.ResponseWriter, r *http.Request) (*storage.Reading, bool) {
	id, ok := urlID(r)
	if !ok {
		notFound(w)
		return nil, false
	}
	rd, err := h.st.GetReading(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if rd == nil {
		notFound(w)
		return nil, false
	}
	userID, _ := caller(r)
	m, err := h.ownedMeter(r.Context(), userID, rd.MeterID)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if m == nil {
		notFound(w)
		return nil, false
	}
	return rd, true
}
