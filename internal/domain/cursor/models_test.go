package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken_Follows(t *testing.T) {
	tests := []struct {
		name  string
		token Token
		other Token
		want  bool
	}{
		{
			name:  "longer token follows shorter",
			token: "100",
			other: "99",
			want:  true,
		},
		{
			name:  "shorter token does not follow longer",
			token: "99",
			other: "100",
			want:  false,
		},
		{
			name:  "same length compares bytewise",
			token: "12",
			other: "11",
			want:  true,
		},
		{
			name:  "equal tokens do not follow each other",
			token: "11",
			other: "11",
			want:  false,
		},
		{
			name:  "anything follows the zero token",
			token: "1",
			other: "",
			want:  true,
		},
		{
			name:  "zero token follows nothing",
			token: "",
			other: "1",
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.Follows(tt.other))
		})
	}
}

func TestToken_IsZero(t *testing.T) {
	assert.True(t, Token("").IsZero())
	assert.False(t, Token("0").IsZero())
}

func TestStaleAdvance_Error(t *testing.T) {
	e := StaleAdvance{
		Stream:    "marketplace",
		Stored:    "12",
		Attempted: "11",
	}
	assert.Equal(t, "Cursor for stream [marketplace] is at [12]; refusing to advance to [11]", e.Error())
}

func TestNotFound_Error(t *testing.T) {
	e := NotFound{Stream: "marketplace"}
	assert.Equal(t, "No cursor stored for stream [marketplace]", e.Error())
}
