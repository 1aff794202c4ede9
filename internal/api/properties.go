package api

import (
	"net/http"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
)

type propertyInput struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
}

// apply copies the input onto p. With partial set, omitted fields are kept.
func (in propertyInput) apply(p *storage.Property, partial bool) error {
	verr := &billing.ValidationError{}
	if in.Name != nil {
		p.Name = *in.Name
		checkText(verr, "name", p.Name, 255, true)
	} else if !partial {
		verr.Add("name", requiredMsg)
	}
	if in.Address != nil {
		p.Address = *in.Address
		checkText(verr, "address", p.Address, 500, true)
	} else if !partial {
		verr.Add("address", requiredMsg)
	}
	return failed(verr)
}

// ListProperties returns the caller's properties.
// @Summary List properties
// @Tags properties
// @Produce json
// @Success 200 {array} storage.Property
// @Router /api/properties [get]
func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	props, err := h.st.ListProperties(r.Context(), storage.PropertyFilter{OwnerID: userID})
	if err != nil {
		fail(w, r, err)
		return
	}
	if props == nil {
		props = []storage.Property{}
	}
	writeJSON(w, http.StatusOK, props)
}

func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var in propertyInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	userID, _ := caller(r)
	p := storage.Property{OwnerID: userID}
	if err := in.apply(&p, false); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.st.CreateProperty(r.Context(), &p); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProperty(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProperty(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProperty serves both PUT and PATCH.
func (h *Handler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProperty(w, r)
	if !ok {
		return
	}
	var in propertyInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := in.apply(p, r.Method == http.MethodPatch); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.st.UpdateProperty(r.Context(), p); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProperty removes the property with its meters, readings, charges and payments.
func (h *Handler) DeleteProperty(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProperty(w, r)
	if !ok {
		return
	}
	if err := h.st.DeleteProperty(r.Context(), p.ID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadProperty(w http.ResponseWriter, r *http.Request) (*storage.Property, bool) {
	id, ok := urlID(r)
	if !ok {
		notFound(w)
		return nil, false
	}
	userID, _ := caller(r)
	p, err := h.ownedProperty(r.Context(), userID, id)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if p == nil {
		notFound(w)
		return nil, false
	}
	return p, true
}
