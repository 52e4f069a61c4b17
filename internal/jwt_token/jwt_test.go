package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
)

var tokenService = NewService(
	"test-access-key",
	"test-refresh-key",
	15*time.Minute,
	7*24*time.Hour,
	"reactom-test",
)
var userID = uuid.NewString()

func Test_IssueAccess(t *testing.T) {
	token, jti, err := tokenService.IssueAccess(userID)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, jti)

	got, err := tokenService.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func Test_IssueRefresh(t *testing.T) {
	token, jti, err := tokenService.IssueRefresh(userID)
	require.NoError(t, err)

	claims, err := tokenService.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, jti, claims.ID)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_Verify_RejectsCrossClassTokens(t *testing.T) {
	access, _, err := tokenService.IssueAccess(userID)
	require.NoError(t, err)
	refresh, _, err := tokenService.IssueRefresh(userID)
	require.NoError(t, err)

	_, err = tokenService.VerifyRefresh(access)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeTokenInvalid, "invalid token"))

	_, err = tokenService.VerifyAccess(refresh)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeTokenInvalid, "invalid token"))
}

func Test_Verify_MalformedToken(t *testing.T) {
	_, err := tokenService.VerifyAccess("not-a-token")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeTokenInvalid, "invalid token"))
}

func Test_Verify_ExpiredToken(t *testing.T) {
	expired := NewService("test-access-key", "test-refresh-key", -time.Minute, -time.Minute, "reactom-test")

	token, _, err := expired.IssueAccess(userID)
	require.NoError(t, err)

	_, err = tokenService.VerifyAccess(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeTokenExpired, "token has expired"))
}

func Test_InspectRefresh(t *testing.T) {
	token, jti, err := tokenService.IssueRefresh(userID)
	require.NoError(t, err)

	got, err := tokenService.InspectRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, jti, got)
}
