package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "matrix/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParsePositionID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseOwnerID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParsePositionID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseOwnerID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, OwnerID(validUUID), id)
	})
}

func TestParseID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE matrix_positions;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Empty string", "", true},
		{"Whitespace only", "   ", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errPosition := ParsePositionID(tt.input)
			_, errOwner := ParseOwnerID(tt.input)
			if tt.wantErr {
				require.Error(t, errPosition)
				require.Error(t, errOwner)
				assert.True(t, dErrors.HasCode(errPosition, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, errPosition)
			require.NoError(t, errOwner)
		})
	}
}

func TestParseTierID(t *testing.T) {
	t.Run("normalizes case and whitespace", func(t *testing.T) {
		tier, err := ParseTierID("  Gold ")
		require.NoError(t, err)
		assert.Equal(t, TierID("gold"), tier)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ParseTierID(" ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects punctuation", func(t *testing.T) {
		_, err := ParseTierID("gold;drop")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects oversized", func(t *testing.T) {
		_, err := ParseTierID(strings.Repeat("g", maxTierIDLength+1))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestIDJSON(t *testing.T) {
	type payload struct {
		Position PositionID `json:"position_id"`
		Owner    OwnerID    `json:"owner_id"`
	}
	in := payload{Position: NewPositionID(), Owner: OwnerID(uuid.New())}

	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	err = json.Unmarshal([]byte(`{"position_id":"nope"}`), &out)
	require.Error(t, err)
}
