package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "export url unchanged",
			in:   "https://docs.google.com/spreadsheets/d/abc/export?format=csv&gid=7",
			want: "https://docs.google.com/spreadsheets/d/abc/export?format=csv&gid=7",
		},
		{
			name: "edit url with gid",
			in:   "https://docs.google.com/spreadsheets/d/1AbC_d-9/edit#gid=123",
			want: "https://docs.google.com/spreadsheets/d/1AbC_d-9/export?format=csv&gid=123",
		},
		{
			name: "edit url without gid",
			in:   "https://docs.google.com/spreadsheets/d/KEY123/edit",
			want: "https://docs.google.com/spreadsheets/d/KEY123/export?format=csv&gid=0",
		},
		{
			name: "bare key",
			in:   "KEY_123-x",
			want: "https://docs.google.com/spreadsheets/d/KEY_123-x/export?format=csv&gid=0",
		},
		{
			name: "surrounding whitespace",
			in:   "  KEY  ",
			want: "https://docs.google.com/spreadsheets/d/KEY/export?format=csv&gid=0",
		},
		{
			name: "other url unchanged",
			in:   "https://example.com/products.csv",
			want: "https://example.com/products.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}
