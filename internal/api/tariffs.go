package api

import (
	"io"
	"net/http"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/bher20/meterbill/internal/tariffsheet"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const maxSheetBytes = 10 << 20

type tariffInput struct {
	ResourceType *string          `json:"resource_type"`
	ValuePerUnit *decimal.Decimal `json:"value_per_unit"`
	ValidFrom    *string          `json:"valid_from"`
	ValidTo      nullableDate     `json:"valid_to"`
}

func (in tariffInput) apply(t *storage.Tariff, partial bool) error {
	verr := &billing.ValidationError{}
	if in.ResourceType != nil {
		t.ResourceType = storage.ResourceType(*in.ResourceType)
		checkResource(verr, "resource_type", t.ResourceType)
	} else if !partial {
		verr.Add("resource_type", requiredMsg)
	}
	if in.ValuePerUnit != nil {
		t.ValuePerUnit = *in.ValuePerUnit
		checkDecimal(verr, "value_per_unit", t.ValuePerUnit, 10, 2)
	} else if !partial {
		verr.Add("value_per_unit", requiredMsg)
	}
	if in.ValidFrom != nil || !partial {
		t.ValidFrom = requireDate(verr, "valid_from", in.ValidFrom)
	}
	if in.ValidTo.Set || !partial {
		t.ValidTo = in.ValidTo.resolve(verr, "valid_to")
	}
	if _, bad := verr.Fields["valid_from"]; !bad && t.ValidTo != nil && t.ValidTo.Before(t.ValidFrom) {
		verr.Add("valid_to", "Must not be before valid_from.")
	}
	return failed(verr)
}

// ListTariffs returns all tariffs.
// @Summary List tariffs
// @Tags tariffs
// @Param resource_type query string false "Resource type"
// @Router /api/tariffs [get]
func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	var f storage.TariffFilter
	if rt := r.URL.Query().Get("resource_type"); rt != "" {
		f.ResourceType = storage.ResourceType(rt)
		if !f.ResourceType.Valid() {
			fail(w, r, billing.ErrInvalidResource)
			return
		}
	}
	tariffs, err := h.st.ListTariffs(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]tariffDTO, 0, len(tariffs))
	for _, t := range tariffs {
		out = append(out, toTariffDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateTariff(w http.ResponseWriter, r *http.Request) {
	var in tariffInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	var t storage.Tariff
	if err := in.apply(&t, false); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.st.CreateTariff(r.Context(), &t); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTariffDTO(t))
}

func (h *Handler) GetTariff(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTariff(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTariffDTO(*t))
}

func (h *Handler) UpdateTariff(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTariff(w, r)
	if !ok {
		return
	}
	var in tariffInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := in.apply(t, r.Method == http.MethodPatch); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.st.UpdateTariff(r.Context(), t); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTariffDTO(*t))
}

func (h *Handler) DeleteTariff(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTariff(w, r)
	if !ok {
		return
	}
	if err := h.st.DeleteTariff(r.Context(), t.ID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportTariffs upserts the tariffs found in a PDF or plain text tariff sheet.
// @Summary Import a tariff sheet
// @Tags tariffs
// @Accept application/pdf
// @Accept text/plain
// @Produce json
// @Router /api/tariffs/import [post]
func (h *Handler) ImportTariffs(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSheetBytes))
	if err != nil {
		writeValidation(w, billing.Invalid("file", "Could not read the uploaded sheet."))
		return
	}
	rows, err := tariffsheet.Parse(data)
	if err != nil {
		writeValidation(w, billing.Invalid("file", err.Error()))
		return
	}
	imported, err := tariffsheet.Import(r.Context(), h.st, rows)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]tariffDTO, 0, len(imported))
	for _, t := range imported {
		out = append(out, toTariffDTO(t))
	}
	if h.archive != "" {
		name := "tariffs.txt"
		if tariffsheet.IsPDF(data) {
			name = "tariffs.pdf"
		}
		path, err := tariffsheet.Archive(h.archive, name, data, h.now())
		if err != nil {
			log.Error().Err(err).Msg("archive tariff sheet failed")
		} else {
			log.Info().Str("path", path).Msg("tariff sheet archived")
		}
	}
	log.Info().Int("tariffs", len(out)).Msg("tariff sheet imported")
	writeJSON(w, http.StatusOK, map[string]any{"imported": out})
}

func (h *Handler) loadTariff(w http.ResponseWriter, r *http.Request) (*storage.Tariff, bool) {
	id, ok := urlID(r)
	if !ok {
		notFound(w)
		return nil, false
	}
	t, err := h.st.GetTariff(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if t == nil {
		notFound(w)
		return nil, false
	}
	return t, true
}
