package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name, token, admin string
		wantErr            bool
	}{
		{"matching token", "s3cret", "s3cret", false},
		{"wrong token", "guess", "s3cret", true},
		{"missing token", "", "s3cret", true},
		{"disabled when admin token unset", "", "", true},
		{"disabled even if caller sends something", "anything", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Authorize(tt.token, tt.admin)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrForbidden)
				assert.False(t, c.granted)
				return
			}
			require.NoError(t, err)
			assert.True(t, c.granted)
		})
	}
}

func TestValidEdge(t *testing.T) {
	ok := Edge{FromKind: KindUser, FromID: "u", ToKind: KindDocument, ToID: "d", Type: EdgeUploaded}
	assert.NoError(t, validEdge(ok))

	bad := ok
	bad.Type = "UPLOADED]->(x) DETACH DELETE x //"
	assert.ErrorIs(t, validEdge(bad), ErrInvalidEdgeType)

	bad = ok
	bad.Type = "uploaded"
	assert.ErrorIs(t, validEdge(bad), ErrInvalidEdgeType)

	bad = ok
	bad.FromKind = "Admin"
	assert.ErrorIs(t, validEdge(bad), ErrInvalidKind)
}

func TestNodeTitle(t *testing.T) {
	assert.Equal(t, "Asha", Node{Props: map[string]any{"name": "Asha"}}.Title())
	assert.Equal(t, "Report", Node{Props: map[string]any{"title": "Report"}}.Title())
	assert.Equal(t, "Unknown", Node{}.Title())
}
