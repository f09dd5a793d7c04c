package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	token, exp, err := Issue(7, true, "opkomst-test", "key", time.Hour)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Parse(token, "key", "opkomst-test")
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.True(t, claims.Admin)
}

func TestParse_RejectsWrongKeyAndIssuer(t *testing.T) {
	token, _, err := Issue(7, false, "opkomst-test", "key", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "other-key", "opkomst-test")
	assert.Error(t, err)

	_, err = Parse(token, "key", "someone-else")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("geheim")
	require.NoError(t, err)
	assert.NotEqual(t, "geheim", hash)
	assert.True(t, CheckPassword(hash, "geheim"))
	assert.False(t, CheckPassword(hash, "fout"))
}
