package sheet

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"catalogsync/internal/config"
)

var validate *validator.Validate

var skuRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func init() {
	validate = validator.New()

	validate.RegisterValidation("sku", validateSKU)
	validate.RegisterValidation("nonneg_number", validateNonNegativeNumber)
}

func validateSKU(fl validator.FieldLevel) bool {
	return skuRe.MatchString(fl.Field().String())
}

func validateNonNegativeNumber(fl validator.FieldLevel) bool {
	_, ok := parseNonNegative(fl.Field().String())
	return ok
}

func parseNonNegative(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

// ValidSKU reports whether sku is non-empty and uses only letters, digits,
// '_' and '-'.
func ValidSKU(sku string) bool {
	return validate.Var(sku, "required,sku") == nil
}

// Validate converts candidates into records. It never fails: candidates with
// an invalid SKU are dropped, an invalid quantity becomes 0 and an invalid
// price is removed. Duplicate SKUs collapse into the last occurrence, kept at
// the position of the first.
func Validate(logger *slog.Logger, candidates []Candidate) []Record {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	records := make([]Record, 0, len(candidates))
	position := make(map[string]int, len(candidates))
	dropped := 0

	for _, c := range candidates {
		if !ValidSKU(c.SKU) {
			logger.Warn("invalid SKU, skipping row", slog.String("sku", c.SKU), slog.Int("line", c.Line))
			dropped++
			continue
		}

		rec := Record{SKU: c.SKU}

		if v, ok := c.Field(config.FieldName); ok {
			rec.Name = strPtr(v)
		}
		if v, ok := c.Field(config.FieldDescription); ok {
			rec.Description = strPtr(v)
		}
		if v, ok := c.Field(config.FieldQty); ok {
			qty := 0.0
			if validate.Var(v, "nonneg_number") == nil {
				qty, _ = parseNonNegative(v)
			} else {
				logger.Warn("invalid quantity, setting to 0", slog.String("sku", c.SKU), slog.String("qty", v))
			}
			rec.Qty = &qty
		}
		if v, ok := c.Field(config.FieldPrice); ok {
			if validate.Var(v, "nonneg_number") == nil {
				price, _ := parseNonNegative(v)
				rec.Price = &price
			} else {
				logger.Warn("invalid price, removing price", slog.String("sku", c.SKU), slog.String("price", v))
			}
		}

		if i, seen := position[rec.SKU]; seen {
			logger.Warn("duplicate SKU, keeping last row", slog.String("sku", rec.SKU), slog.Int("line", c.Line))
			records[i] = rec
			continue
		}
		position[rec.SKU] = len(records)
		records = append(records, rec)
	}

	if dropped > 0 {
		logger.Info("validation dropped candidates", slog.Int("dropped", dropped), slog.Int("kept", len(records)))
	}
	return records
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	return &s
}
