// Package tariffsheet extracts tariffs from published tariff sheets.
//
// A sheet is a PDF or plain text document containing lines such as
//
//	Electricity: 6.50 per kWh from 2024-01-01 to 2024-12-31
//	Hot water - 219.40 per m³ from 2024-09-01
package tariffsheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/bher20/meterbill/internal/storage"
	pdf "github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrNoTariffs is returned when a sheet contains no recognizable tariff line.
var ErrNoTariffs = errors.New("no tariff lines found in sheet")

// Row is one tariff parsed from a sheet.
type Row struct {
	ResourceType storage.ResourceType
	ValuePerUnit decimal.Decimal
	Unit         string
	ValidFrom    time.Time
	ValidTo      *time.Time
}

var lineRe = regexp.MustCompile(`(?i)(electricity|electric|cold[ _]water|hot[ _]water|gas|heating|heat)\s*[:\-–]\s*([0-9]+(?:[.,][0-9]+)?)\s*(?:per\s+([^\s]+)\s+)?from\s+(\d{4}-\d{2}-\d{2})(?:\s+(?:to|until)\s+(\d{4}-\d{2}-\d{2}))?`)

var resourceAliases = map[string]storage.ResourceType{
	"electricity": storage.Electricity,
	"electric":    storage.Electricity,
	"cold water":  storage.ColdWater,
	"cold_water":  storage.ColdWater,
	"hot water":   storage.HotWater,
	"hot_water":   storage.HotWater,
	"gas":         storage.Gas,
	"heating":     storage.Heating,
	"heat":        storage.Heating,
}

// IsPDF reports whether data starts with a PDF header.
func IsPDF(data []byte) bool { return bytes.HasPrefix(data, []byte("%PDF-")) }

// Parse reads a PDF (detected by its header) or plain text sheet.
func Parse(data []byte) ([]Row, error) {
	if IsPDF(data) {
		text, err := ExtractPDFText(data)
		if err != nil {
			return nil, err
		}
		return ParseText(text)
	}
	return ParseText(string(data))
}

// ParseFile reads and parses the sheet at path.
func ParseFile(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	return Parse(data)
}

// ExtractPDFText returns the plain text content of a PDF document.
func ExtractPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	rc, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

// ParseText extracts every tariff line from text.
func ParseText(text string) ([]Row, error) {
	matches := lineRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, ErrNoTariffs
	}
	rows := make([]Row, 0, len(matches))
	for _, m := range matches {
		row, err := parseMatch(m)
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", strings.TrimSpace(m[0]), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseMatch(m []string) (Row, error) {
	rt, ok := resourceAliases[strings.ToLower(m[1])]
	if !ok {
		return Row{}, fmt.Errorf("unknown resource %q", m[1])
	}
	rate, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", "."))
	if err != nil {
		return Row{}, fmt.Errorf("rate: %w", err)
	}
	if !rate.Round(2).Equal(rate) {
		return Row{}, fmt.Errorf("rate %s has more than 2 decimal places", rate)
	}
	if len(rate.Truncate(0).String()) > 8 {
		return Row{}, fmt.Errorf("rate %s has more than 8 digits before the decimal point", rate)
	}
	from, err := time.Parse("2006-01-02", m[4])
	if err != nil {
		return Row{}, fmt.Errorf("valid from: %w", err)
	}
	row := Row{ResourceType: rt, ValuePerUnit: rate, Unit: m[3], ValidFrom: from}
	if row.Unit == "" {
		row.Unit = rt.DefaultUnit()
	}
	if m[5] != "" {
		to, err := time.Parse("2006-01-02", m[5])
		if err != nil {
			return Row{}, fmt.Errorf("valid to: %w", err)
		}
		if to.Before(from) {
			return Row{}, fmt.Errorf("valid to %s is before valid from %s", m[5], m[4])
		}
		row.ValidTo = &to
	}
	return row, nil
}

// Import upserts rows keyed by (resource type, valid from) in one transaction.
func Import(ctx context.Context, st storage.Storage, rows []Row) ([]storage.Tariff, error) {
	out := make([]storage.Tariff, 0, len(rows))
	err := st.Transaction(ctx, func(tx storage.Storage) error {
		for _, row := range rows {
			t := storage.Tariff{
				ResourceType: row.ResourceType,
				ValuePerUnit: row.ValuePerUnit,
				ValidFrom:    row.ValidFrom,
				ValidTo:      row.ValidTo,
			}
			if err := tx.UpsertTariff(ctx, &t); err != nil {
				return fmt.Errorf("upsert %s tariff from %s: %w", t.ResourceType, t.ValidFrom.Format("2006-01-02"), err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Int("rows", len(out)).Msg("tariff sheet rows upserted")
	return out, nil
}
