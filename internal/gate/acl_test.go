package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessListFilter_Classify(t *testing.T) {
	tests := []struct {
		name    string
		allow   []string
		deny    []string
		address string
		want    Classification
	}{
		{"allow listed", []string{"10.0.0.1"}, nil, "10.0.0.1", Allowed},
		{"deny listed", nil, []string{"10.0.0.1"}, "10.0.0.1", Denied},
		{"allow beats deny", []string{"10.0.0.1"}, []string{"10.0.0.1"}, "10.0.0.1", Allowed},
		{"unlisted", []string{"10.0.0.1"}, []string{"10.0.0.2"}, "10.0.0.3", Unclassified},
		{"empty lists", nil, nil, "10.0.0.1", Unclassified},
		{"no prefix matching", []string{"10.0.0"}, nil, "10.0.0.1", Unclassified},
		{"case sensitive", []string{"fe80::A"}, nil, "fe80::a", Unclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewAccessListFilter(tt.allow, tt.deny)
			assert.Equal(t, tt.want, f.Classify(tt.address))
		})
	}
}

func TestClassification_String(t *testing.T) {
	assert.Equal(t, "allowed", Allowed.String())
	assert.Equal(t, "denied", Denied.String())
	assert.Equal(t, "unclassified", Unclassified.String())
}
