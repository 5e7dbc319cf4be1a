package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"simple", "alice", false},
		{"single char", "a", false},
		{"with digits and underscore", "bob_42", false},
		{"with hyphen", "team-lead", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"contains space", "al ice", true},
		{"contains colon", "al:ice", true},
		{"contains at", "al@ice", true},
		{"too long", strings.Repeat("a", 33), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, ValidateRoomID("123456"))
	assert.NoError(t, ValidateRoomID("100000"))
	assert.Error(t, ValidateRoomID("12345"))
	assert.Error(t, ValidateRoomID("1234567"))
	assert.Error(t, ValidateRoomID("12a456"))
	assert.Error(t, ValidateRoomID(""))
}

func TestValidateRoomPassword(t *testing.T) {
	assert.NoError(t, ValidateRoomPassword(""))
	assert.NoError(t, ValidateRoomPassword("hunter2"))
	assert.NoError(t, ValidateRoomPassword("pass phrase"))
	assert.Error(t, ValidateRoomPassword(strings.Repeat("x", 65)))
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret-pass", hash)

	assert.True(t, CheckPassword(hash, "s3cret-pass"))
	assert.False(t, CheckPassword(hash, "wrong"))

	_, err = HashPassword("")
	assert.Error(t, err)

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)
}
