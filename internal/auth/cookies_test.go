package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCookie(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{
			name:    "folded header",
			headers: []string{"a=1; Path=/, b=2; Path=/, c=3"},
			want:    "a=1; b=2; c=3",
		},
		{
			name:    "expires date keeps its comma",
			headers: []string{"JSESSIONID=abc; Expires=Wed, 21 Oct 2026 07:28:00 GMT; Path=/, route=r1"},
			want:    "JSESSIONID=abc; route=r1",
		},
		{
			name:    "comma inside value",
			headers: []string{"list=x,y; Path=/"},
			want:    "list=x,y",
		},
		{
			name:    "separate headers",
			headers: []string{"a=1; HttpOnly", "b=2; Secure"},
			want:    "a=1; b=2",
		},
		{
			name:    "last value wins",
			headers: []string{"a=1", "b=2, a=3"},
			want:    "a=3; b=2",
		},
		{
			name:    "nothing usable",
			headers: []string{"", "; Path=/"},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCookie(tt.headers))
		})
	}
}

func TestSplitSetCookie(t *testing.T) {
	assert.Equal(t,
		[]string{"a=1; Expires=Thu, 01 Jan 2026 00:00:00 GMT", "b=2"},
		SplitSetCookie("a=1; Expires=Thu, 01 Jan 2026 00:00:00 GMT, b=2"))
	assert.Nil(t, SplitSetCookie("  "))
}
