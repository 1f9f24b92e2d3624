package controllers

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/env"
	"github.com/quillforge/quillforge/internal/pkg/identity"
	"github.com/quillforge/quillforge/internal/pkg/orgs"
)

type fakeUserStore struct {
	users       map[string]*models.User
	upserts     []string
	softDeleted []string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*models.User{}}
}

func (f *fakeUserStore) GetBySubject(subject string) (*models.User, error) {
	if u, ok := f.users[subject]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserStore) UpsertBySubject(subject, email, name, avatarURL string) (*models.User, error) {
	f.upserts = append(f.upserts, subject)
	u, ok := f.users[subject]
	if !ok {
		u = &models.User{ID: uint(len(f.users) + 1), IdentitySubject: subject}
		f.users[subject] = u
	}
	if email != "" {
		u.Email = email
	}
	if name != "" {
		u.Name = name
	}
	return u, nil
}

func (f *fakeUserStore) SoftDeleteBySubject(subject string) error {
	f.softDeleted = append(f.softDeleted, subject)
	delete(f.users, subject)
	return nil
}

type fakeTokenStore struct {
	revokedUsers []uint
}

func (f *fakeTokenStore) RevokeAllForUser(userID uint) (int64, error) {
	f.revokedUsers = append(f.revokedUsers, userID)
	return 1, nil
}

type fakeSeatManager struct {
	orgNames  map[string]string
	assigned  []string
	removed   []string
	assignErr error
	removeErr error
}

func newFakeSeatManager() *fakeSeatManager {
	return &fakeSeatManager{orgNames: map[string]string{}}
}

func (f *fakeSeatManager) UpsertOrganization(ctx context.Context, externalID, name string) (*models.Organization, error) {
	f.orgNames[externalID] = name
	return &models.Organization{ID: 1, ExternalID: externalID, Name: name}, nil
}

func (f *fakeSeatManager) AssignSeat(ctx context.Context, orgExternalID, subject, role string) error {
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assigned = append(f.assigned, orgExternalID+":"+subject)
	return nil
}

func (f *fakeSeatManager) RemoveSeat(ctx context.Context, orgExternalID, subject string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, orgExternalID+":"+subject)
	return nil
}

type processorFixture struct {
	users   *fakeUserStore
	tokens  *fakeTokenStore
	seats   *fakeSeatManager
	bonuses []string
	proc    *identityEventProcessor
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		users:  newFakeUserStore(),
		tokens: &fakeTokenStore{},
		seats:  newFakeSeatManager(),
	}
	f.proc = &identityEventProcessor{
		users:  f.users,
		tokens: f.tokens,
		seats:  f.seats,
		grantBonus: func(_ context.Context, subject string) {
			f.bonuses = append(f.bonuses, subject)
		},
	}
	return f
}

func TestIdentityProcessor_UserCreatedWithoutEmailIsSkipped(t *testing.T) {
	f := newProcessorFixture()

	skipped, err := f.proc.process(context.Background(), &identity.Event{
		Type: identity.EventUserCreated,
		User: &identity.UserEvent{Subject: "user_noemail"},
	})
	require.NoError(t, err)
	assert.True(t, skipped)
	// No row is written and no bonus is granted.
	assert.Empty(t, f.users.upserts)
	assert.Empty(t, f.bonuses)
}

func TestIdentityProcessor_UserCreatedMirrorsAndGrantsBonus(t *testing.T) {
	f := newProcessorFixture()

	skipped, err := f.proc.process(context.Background(), &identity.Event{
		Type: identity.EventUserCreated,
		User: &identity.UserEvent{Subject: "user_1", Email: "ada@example.com", Name: "Ada"},
	})
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, []string{"user_1"}, f.users.upserts)
	assert.Equal(t, []string{"user_1"}, f.bonuses)
}

func TestIdentityProcessor_UserUpdatedWithoutEmailStillMirrors(t *testing.T) {
	f := newProcessorFixture()
	f.users.users["user_1"] = &models.User{ID: 1, IdentitySubject: "user_1", Email: "ada@example.com"}

	// The provider may redact the email on update; the upsert keeps the
	// stored address and no bonus is re-granted.
	skipped, err := f.proc.process(context.Background(), &identity.Event{
		Type: identity.EventUserUpdated,
		User: &identity.UserEvent{Subject: "user_1", Name: "Ada L."},
	})
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, []string{"user_1"}, f.users.upserts)
	assert.Equal(t, "ada@example.com", f.users.users["user_1"].Email)
	assert.Empty(t, f.bonuses)
}

func TestIdentityProcessor_UserDeleted(t *testing.T) {
	f := newProcessorFixture()
	f.users.users["user_1"] = &models.User{ID: 7, IdentitySubject: "user_1"}

	skipped, err := f.proc.process(context.Background(), &identity.Event{
		Type: identity.EventUserDeleted,
		User: &identity.UserEvent{Subject: "user_1"},
	})
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, []uint{7}, f.tokens.revokedUsers)
	assert.Equal(t, []string{"user_1"}, f.users.softDeleted)
}

func TestIdentityProcessor_UserDeletedUnknownSubjectIsSkipped(t *testing.T) {
	f := newProcessorFixture()

	skipped, err := f.proc.process(context.Background(), &identity.Event{
		Type: identity.EventUserDeleted,
		User: &identity.UserEvent{Subject: "user_gone"},
	})
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Empty(t, f.tokens.revokedUsers)
}

func TestIdentityProcessor_MembershipCreated(t *testing.T) {
	f := newProcessorFixture()

	skipped, err := f.proc.process(context.Background(), &identity.Event{
		Type: identity.EventMembershipCreated,
		Membership: &identity.MembershipEvent{
			Subject: "user_1", OrgID: "org_abc", OrgName: "Acme Writers", Role: "admin",
		},
	})
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, "Acme Writers", f.seats.orgNames["org_abc"])
	assert.Equal(t, []string{"org_abc:user_1"}, f.seats.assigned)
}

func TestIdentityProcessor_MembershipBeforeUserSyncFails(t *testing.T) {
	f := newProcessorFixture()
	f.seats.assignErr = fmt.Errorf("seat user not synchronized: %w", gorm.ErrRecordNotFound)

	// The error bubbles so the provider retries the delivery after the
	// member's own user.created event lands.
	_, err := f.proc.process(context.Background(), &identity.Event{
		Type: identity.EventMembershipCreated,
		Membership: &identity.MembershipEvent{
			Subject: "user_late", OrgID: "org_abc", OrgName: "Acme", Role: "member",
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestIdentityProcessor_MembershipDeletedUnknownOrgIsSkipped(t *testing.T) {
	f := newProcessorFixture()
	f.seats.removeErr = orgs.ErrOrgNotFound

	skipped, err := f.proc.process(context.Background(), &identity.Event{
		Type: identity.EventMembershipDeleted,
		Membership: &identity.MembershipEvent{
			Subject: "user_1", OrgID: "org_unknown",
		},
	})
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Empty(t, f.seats.removed)
}

func TestIdentityProcessor_UnknownTypeIsSkipped(t *testing.T) {
	f := newProcessorFixture()

	skipped, err := f.proc.process(context.Background(), &identity.Event{Type: "session.created"})
	require.NoError(t, err)
	assert.True(t, skipped)
}

func withTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	prev := env.Env
	env.Env = vars
	t.Cleanup(func() { env.Env = prev })
}

func TestHandleIdentityWebhook_MissingSecret(t *testing.T) {
	withTestEnv(t, map[string]string{})
	t.Setenv("IDENTITY_WEBHOOK_SECRET", "")

	app := fiber.New()
	app.Post("/webhooks/identity", HandleIdentityWebhook)

	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/identity", bytes.NewReader([]byte(`{}`)))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestHandleIdentityWebhook_BadSignature(t *testing.T) {
	withTestEnv(t, map[string]string{
		"IDENTITY_WEBHOOK_SECRET": "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw",
	})

	app := fiber.New()
	app.Post("/webhooks/identity", HandleIdentityWebhook)

	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/identity",
		bytes.NewReader([]byte(`{"type":"user.created","data":{"id":"user_1"}}`)))
	req.Header.Set("Webhook-Id", "msg_1")
	req.Header.Set("Webhook-Timestamp", "1756425600")
	req.Header.Set("Webhook-Signature", "v1,AAAA")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
