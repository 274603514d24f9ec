package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"strings"

	"catalogsync/internal/config"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse turns CSV content into candidates. The first non-blank row is the
// header. Rows without a SKU are skipped. A sheet with only a header yields
// no candidates and no error.
func Parse(logger *slog.Logger, raw []byte, mapping []config.Mapping) ([]Candidate, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rows, err := readRows(logger, raw)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &FormatError{Reason: "no data found in the CSV"}
	}

	header := make([]string, len(rows[0].cells))
	for i, h := range rows[0].cells {
		header[i] = strings.TrimSpace(h)
	}
	logger.Debug("sheet header", slog.Any("header", header))

	if len(rows) < 2 {
		logger.Warn("sheet only contains a header row, no product data")
		return []Candidate{}, nil
	}

	cols := ResolveColumns(header, mapping)
	skuIdx := cols.Index(config.FieldSKU)
	if skuIdx == Unresolved {
		return nil, &FormatError{Reason: "SKU column " + headerFor(mapping, config.FieldSKU) + " not found in header: " + strings.Join(header, ", ")}
	}
	logger.Debug("sheet columns resolved", slog.Any("columns", cols))

	candidates := make([]Candidate, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row.cells) <= skuIdx {
			logger.Warn("skipping row with insufficient columns",
				slog.Int("line", row.line), slog.Int("columns", len(row.cells)), slog.Int("sku_index", skuIdx))
			continue
		}

		sku := strings.TrimSpace(row.cells[skuIdx])
		if sku == "" {
			logger.Warn("skipping row with missing SKU", slog.Int("line", row.line))
			continue
		}

		c := Candidate{SKU: sku, Fields: make(map[string]string, len(mapping)-1), Line: row.line}
		for _, m := range mapping {
			if m.Field == config.FieldSKU {
				continue
			}
			idx := cols.Index(m.Field)
			if idx == Unresolved || idx >= len(row.cells) {
				continue
			}
			c.Fields[m.Field] = strings.TrimSpace(row.cells[idx])
		}
		candidates = append(candidates, c)
	}

	logger.Info("extracted candidates from sheet", slog.Int("rows", len(rows)-1), slog.Int("candidates", len(candidates)))
	return candidates, nil
}

type csvRow struct {
	line  int
	cells []string
}

func readRows(logger *slog.Logger, raw []byte) ([]csvRow, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows []csvRow
	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				logger.Warn("skipping malformed row", slog.Int("line", pe.StartLine), slog.String("error", pe.Err.Error()))
				continue
			}
			return nil, &FormatError{Reason: "read csv", Err: err}
		}
		if isBlank(cells) {
			continue
		}
		line, _ := r.FieldPos(0)
		rows = append(rows, csvRow{line: line, cells: cells})
	}
	return rows, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func headerFor(mapping []config.Mapping, field string) string {
	for _, m := range mapping {
		if m.Field == field {
			return `"` + m.Header + `"`
		}
	}
	return `"` + field + `"`
}
