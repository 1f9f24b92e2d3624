package orgs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/internal/pkg/identity"
)

type fakeIdentityAPI struct {
	memberships map[string]*identity.Membership // key: orgID+":"+subject
	calls       int
	err         error
}

func (f *fakeIdentityAPI) GetOrganization(ctx context.Context, orgID string) (*identity.Organization, error) {
	return &identity.Organization{ID: orgID, Name: "Fake Org"}, nil
}

func (f *fakeIdentityAPI) GetUserMembership(ctx context.Context, orgID, subject string) (*identity.Membership, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.memberships[orgID+":"+subject]
	if !ok {
		return nil, identity.ErrMembershipNotFound
	}
	return m, nil
}

func TestResolveMembership_ClaimsHit(t *testing.T) {
	api := &fakeIdentityAPI{}
	svc := NewService(nil, api)

	claims := &identity.Claims{
		Subject:  "user_1",
		OrgRoles: map[string]string{"org_abc": "admin"},
	}
	role, err := svc.ResolveMembership(context.Background(), claims, "user_1", "org_abc")
	require.NoError(t, err)
	assert.Equal(t, "admin", role)
	// Claims answer before the identity API is consulted.
	assert.Zero(t, api.calls)
}

func TestResolveMembership_ClaimsMissFallsBackToAPI(t *testing.T) {
	// Unique org id keeps the shared membership cache out of the picture.
	orgID := fmt.Sprintf("org_test_%d", time.Now().UnixNano())
	api := &fakeIdentityAPI{
		memberships: map[string]*identity.Membership{
			orgID + ":user_1": {OrgID: orgID, Subject: "user_1", Role: "member"},
		},
	}
	svc := NewService(nil, api)

	claims := &identity.Claims{Subject: "user_1", OrgRoles: map[string]string{"org_other": "admin"}}
	role, err := svc.ResolveMembership(context.Background(), claims, "user_1", orgID)
	require.NoError(t, err)
	assert.Equal(t, "member", role)
	assert.Equal(t, 1, api.calls)
}

func TestResolveMembership_NotMember(t *testing.T) {
	orgID := fmt.Sprintf("org_test_%d", time.Now().UnixNano())
	api := &fakeIdentityAPI{}
	svc := NewService(nil, api)

	_, err := svc.ResolveMembership(context.Background(), nil, "user_1", orgID)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestResolveMembership_APIError(t *testing.T) {
	orgID := fmt.Sprintf("org_test_%d", time.Now().UnixNano())
	api := &fakeIdentityAPI{err: errors.New("identity api unreachable")}
	svc := NewService(nil, api)

	_, err := svc.ResolveMembership(context.Background(), nil, "user_1", orgID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotMember)
}

func TestMapSeatProcedureError(t *testing.T) {
	assert.ErrorIs(t, mapSeatProcedureError(errors.New("Error 1644 (45000): ORG_NOT_FOUND")), ErrOrgNotFound)
	assert.ErrorIs(t, mapSeatProcedureError(errors.New("Error 1644 (45000): USER_NOT_FOUND")), gorm.ErrRecordNotFound)

	boom := errors.New("connection reset")
	assert.Equal(t, boom, mapSeatProcedureError(boom))
}

func TestUpsertOrganization_RequiresExternalID(t *testing.T) {
	svc := NewService(nil, &fakeIdentityAPI{})
	_, err := svc.UpsertOrganization(context.Background(), "   ", "Acme")
	assert.Error(t, err)
}
