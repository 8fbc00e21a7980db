package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCommittee(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"canonical passthrough", "Teknisk Udvalg", "Teknisk Udvalg"},
		{"lowercase feed spelling", "teknisk udvalg", "Teknisk Udvalg"},
		{"ascii transliteration", "Byraadet", "Byrådet"},
		{"meeting prefix stripped", "Mødet i Byrådet", "Byrådet"},
		{"minutes prefix stripped", "Referat af økonomiudvalget", "Økonomiudvalget"},
		{"whitespace collapsed", "  Børn  og Unge ", "Børn og Unge-udvalget"},
		{"unknown committee kept cleaned", "Midlertidigt §17.4-udvalg", "Midlertidigt §17.4-udvalg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCommittee(tt.in))
		})
	}
}

func TestValidCaseNumber(t *testing.T) {
	valid := []string{"23/012345", "24/1234", "SAG-2024-12345", "MTM-2023-7"}
	for _, s := range valid {
		assert.True(t, ValidCaseNumber(s), s)
	}
	invalid := []string{"", "sagsnummer", "2024-12345", "23/12", "SAG-24-1"}
	for _, s := range invalid {
		assert.False(t, ValidCaseNumber(s), s)
	}
}
