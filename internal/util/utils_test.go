package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewRecordID(), "trk_"))
	assert.True(t, strings.HasPrefix(NewUserID(), "usr_"))
	assert.NotEqual(t, NewRecordID(), NewRecordID())

	tid := NewTrackingID()
	parsed, err := uuid.Parse(tid)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestNewAPIKey(t *testing.T) {
	k1, err := NewAPIKey()
	require.NoError(t, err)
	k2, err := NewAPIKey()
	require.NoError(t, err)

	assert.Len(t, k1, 64)
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, strings.ToLower(k1), k1)
}
