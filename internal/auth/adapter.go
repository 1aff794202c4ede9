package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/bher20/meterbill/internal/storage"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
)

// Adapter implements the Casbin persist.Adapter interface using storage.Storage.
type Adapter struct {
	storage storage.Storage
}

func NewAdapter(s storage.Storage) *Adapter {
	return &Adapter{storage: s}
}

// LoadPolicy loads all policy rules from the storage.
func (a *Adapter) LoadPolicy(m model.Model) error {
	rules, err := a.storage.LoadCasbinRules(context.Background())
	if err != nil {
		return err
	}
	for _, rule := range rules {
		fields := []string{rule.PType}
		for _, v := range []string{rule.V0, rule.V1, rule.V2, rule.V3, rule.V4, rule.V5} {
			if v == "" {
				break
			}
			fields = append(fields, v)
		}
		if err := persist.LoadPolicyLine(strings.Join(fields, ", "), m); err != nil {
			return err
		}
	}
	return nil
}

// SavePolicy is unsupported; policies are persisted incrementally.
func (a *Adapter) SavePolicy(m model.Model) error {
	return errors.New("not implemented")
}

func (a *Adapter) AddPolicy(sec string, ptype string, rule []string) error {
	return a.storage.AddCasbinRule(context.Background(), toRule(ptype, rule))
}

func (a *Adapter) RemovePolicy(sec string, ptype string, rule []string) error {
	return a.storage.RemoveCasbinRule(context.Background(), toRule(ptype, rule))
}

// RemoveFilteredPolicy removes the stored rules of ptype whose fields,
// starting at fieldIndex, equal the non-empty fieldValues.
func (a *Adapter) RemoveFilteredPolicy(sec string, ptype string, fieldIndex int, fieldValues ...string) error {
	ctx := context.Background()
	rules, err := a.storage.LoadCasbinRules(ctx)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.PType != ptype {
			continue
		}
		vals := ruleValues(r)
		match := true
		for i, fv := range fieldValues {
			idx := fieldIndex + i
			if idx >= len(vals) || (fv != "" && vals[idx] != fv) {
				match = false
				break
			}
		}
		if match {
			if err := a.storage.RemoveCasbinRule(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func toRule(ptype string, rule []string) storage.CasbinRule {
	r := storage.CasbinRule{PType: ptype}
	dst := []*string{&r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5}
	for i, v := range rule {
		if i >= len(dst) {
			break
		}
		*dst[i] = v
	}
	return r
}

func ruleValues(r storage.CasbinRule) [6]string {
	return [6]string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
}
