package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"matrix/internal/matrix/models"
	"matrix/internal/matrix/service/mocks"
	dErrors "matrix/pkg/domain-errors"
	"matrix/pkg/platform/sentinel"
)

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()
	_, err := f.svc.UpsertMember(ctx, ownerN(1), "Bob.Smith", "BOB1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		found bool
	}{
		{name: "empty", token: ""},
		{name: "blank", token: "   "},
		{name: "malformed", token: "bob smith!"},
		{name: "too long", token: string(make([]byte, 200))},
		{name: "unmatched", token: "carol"},
		{name: "username any case", token: "bob.SMITH", found: true},
		{name: "referral code", token: "bob1", found: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, err := f.svc.Resolve(ctx, tt.token)
			require.NoError(t, err)
			if !tt.found {
				assert.Nil(t, owner)
				return
			}
			require.NotNil(t, owner)
			assert.Equal(t, ownerN(1), *owner)
		})
	}
}

func TestResolveDirectoryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	members := mocks.NewMockMemberDirectory(ctrl)
	tiers, err := models.DefaultTierCatalog(2)
	require.NoError(t, err)
	svc := New(nil, members, tiers)

	members.EXPECT().FindByToken(gomock.Any(), "dave").Return(nil, errors.New("connection refused"))

	_, err = svc.Resolve(testContext(), "dave")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestReferralTokenFromURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/register?ref=alice":           "alice",
		"https://example.com/register?utm=x&ref=%20bob%20": "bob",
		"/register?ref=":                                   "",
		"https://example.com/register":                     "",
		"://bad url":                                       "",
		"":                                                 "",
	}
	for raw, want := range tests {
		assert.Equal(t, want, ReferralTokenFromURL(raw), raw)
	}
}

func TestUpsertMember(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()

	saved, err := f.svc.UpsertMember(ctx, ownerN(1), "erin", "")
	require.NoError(t, err)
	assert.Equal(t, fixedNow, saved.CreatedAt)

	_, err = f.svc.UpsertMember(ctx, ownerN(2), "ERIN", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = f.svc.UpsertMember(ctx, ownerN(3), "bad name", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	member, err := f.svc.GetMember(ctx, ownerN(1))
	require.NoError(t, err)
	assert.Equal(t, "erin", member.Username)

	_, err = f.svc.GetMember(ctx, ownerN(4))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
