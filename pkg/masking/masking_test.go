package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "escribime a lucas@example.com", "escribime a ***@***"},
		{"phone international", "mi tel es +54 9 11 5555-1234", "mi tel es ***"},
		{"dni", "soy 30.123.456 gracias", "soy *** gracias"},
		{"clean text stays", "no enciende la notebook", "no enciende la notebook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskText(tt.in))
		})
	}
}

func TestMaskName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Lucas García", "Lucas G."},
		{"Lucas", "Lucas"},
		{"  ana maría lópez  ", "ana L."},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskName(tt.in))
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Lucas", SanitizeName("  Lucas\x00\x1b "))
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, SanitizeName(string(long)), 60)
}
