package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkpass/server/internal/model"
)

func TestAuthenticateBackdoor_stepOneIssuesNothing(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.AuthenticateBackdoor(context.Background(), BackdoorRequest{
		Email:    "eng@sigmacomputing.com",
		Hash:     sha256Hex("open-sesame"),
		DeviceID: "device-1",
	})
	require.NoError(t, err)
	assert.True(t, res.RequiresPassword)
	assert.Nil(t, res.Session)

	assert.Equal(t, 0, f.users.count(), "step one must not provision anything")
	assert.Empty(t, f.activity.byType(model.ActivityLogin))
}

func TestAuthenticateBackdoor_wrongEmailHash(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AuthenticateBackdoor(context.Background(), BackdoorRequest{
		Email:    "eng@sigmacomputing.com",
		Hash:     sha256Hex("wrong-guess"),
		DeviceID: "device-1",
	})
	require.ErrorIs(t, err, ErrAccessDenied)

	failures := f.activity.byType(model.ActivityFailedLogin)
	require.Len(t, failures, 1)
	assert.Equal(t, "backdoor-user", failures[0].DisplayIdentity)
	assert.Equal(t, "backdoor_denied", failures[0].Metadata["reason"])
}

func TestAuthenticateBackdoor_wrongPasswordHash(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AuthenticateBackdoor(context.Background(), BackdoorRequest{
		Email:        "eng@sigmacomputing.com",
		Hash:         sha256Hex("open-sesame"),
		PasswordHash: sha256Hex("speak-friend"),
		DeviceID:     "device-1",
	})
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthenticateBackdoor_fullChallenge(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.AuthenticateBackdoor(context.Background(), BackdoorRequest{
		Email:        "eng@sigmacomputing.com",
		Hash:         sha256Hex("open-sesame"),
		PasswordHash: sha256Hex("mellon"),
		DeviceID:     "device-1",
		IP:           "203.0.113.9",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.False(t, res.RequiresPassword)
	assert.True(t, res.Session.IsBackdoor)

	claims, err := f.signer.Verify(context.Background(), res.Session.Credential)
	require.NoError(t, err)
	assert.True(t, claims.IsBackdoor)
	assert.Equal(t, "eng@sigmacomputing.com", claims.Email)

	user, err := f.users.GetByEmail(context.Background(), "eng@sigmacomputing.com")
	require.NoError(t, err)
	assert.Equal(t, "backdoor", user.RegistrationMethod)

	logins := f.activity.byType(model.ActivityLogin)
	require.Len(t, logins, 1)
	assert.Equal(t, "backdoor-user", logins[0].DisplayIdentity,
		"the audit trail carries the placeholder, not the address")
	assert.Equal(t, "backdoor", logins[0].Metadata["channel"])
}

func TestAuthenticateBackdoor_hashComparisonIgnoresCase(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.AuthenticateBackdoor(context.Background(), BackdoorRequest{
		Email: "eng@sigmacomputing.com",
		Hash:  strings.ToUpper(sha256Hex("open-sesame")),
	})
	require.NoError(t, err)
	assert.True(t, res.RequiresPassword)
}

func TestBackdoorChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	match, err := f.svc.BackdoorChallenge(ctx, sha256Hex("open-sesame"))
	require.NoError(t, err)
	assert.True(t, match)

	match, err = f.svc.BackdoorChallenge(ctx, sha256Hex("wrong-guess"))
	require.NoError(t, err)
	assert.False(t, match)

	match, err = f.svc.BackdoorChallenge(ctx, "")
	require.NoError(t, err)
	assert.False(t, match)

	assert.Equal(t, 0, f.users.count(), "the challenge probe provisions nothing")
	assert.Empty(t, f.activity.records, "the challenge probe writes no audit entries")
}

func TestAuthenticateBackdoor_invalidEmailDenied(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AuthenticateBackdoor(context.Background(), BackdoorRequest{
		Email:        "not-an-email",
		Hash:         sha256Hex("open-sesame"),
		PasswordHash: sha256Hex("mellon"),
	})
	require.ErrorIs(t, err, ErrAccessDenied)
}
