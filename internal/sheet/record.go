package sheet

// Candidate is one raw data row: the trimmed SKU and the trimmed text of
// every other mapped column present in the row.
type Candidate struct {
	SKU    string
	Fields map[string]string
	// Line is the 1-based position of the row in the sheet.
	Line int
}

// Field returns the raw text of a mapped column and whether the row had it.
func (c Candidate) Field(name string) (string, bool) {
	v, ok := c.Fields[name]
	return v, ok
}

// Record is a validated candidate ready to be reconciled. Nil fields are
// absent and leave the catalog untouched.
type Record struct {
	SKU         string   `json:"sku"`
	Name        *string  `json:"name,omitempty"`
	Qty         *float64 `json:"qty,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Description *string  `json:"description,omitempty"`
}
