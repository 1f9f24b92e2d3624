package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_UserCreated(t *testing.T) {
	payload := []byte(`{
		"type": "user.created",
		"data": {
			"id": "user_abc",
			"first_name": "Ada",
			"last_name": "Lovelace",
			"image_url": "https://img.example.com/ada.png",
			"primary_email_address_id": "idn_2",
			"email_addresses": [
				{"id": "idn_1", "email_address": "old@example.com"},
				{"id": "idn_2", "email_address": "ada@example.com"}
			]
		}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventUserCreated, event.Type)
	require.NotNil(t, event.User)
	assert.Equal(t, "user_abc", event.User.Subject)
	assert.Equal(t, "ada@example.com", event.User.Email)
	assert.Equal(t, "Ada Lovelace", event.User.Name)
	assert.Equal(t, "https://img.example.com/ada.png", event.User.AvatarURL)
	assert.Nil(t, event.Membership)
}

func TestParseEvent_PrimaryEmailFallback(t *testing.T) {
	// No primary id set: first address wins.
	payload := []byte(`{
		"type": "user.updated",
		"data": {
			"id": "user_abc",
			"email_addresses": [{"id": "idn_1", "email_address": "first@example.com"}]
		}
	}`)
	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", event.User.Email)

	// No addresses at all: email stays empty, event still parses.
	payload = []byte(`{"type": "user.created", "data": {"id": "user_noemail"}}`)
	event, err = ParseEvent(payload)
	require.NoError(t, err)
	assert.Empty(t, event.User.Email)
	assert.Empty(t, event.User.Name)
}

func TestParseEvent_UserDeleted(t *testing.T) {
	payload := []byte(`{"type": "user.deleted", "data": {"id": "user_gone", "deleted": true}}`)
	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventUserDeleted, event.Type)
	assert.Equal(t, "user_gone", event.User.Subject)
}

func TestParseEvent_MembershipCreated(t *testing.T) {
	payload := []byte(`{
		"type": "organization.membership.created",
		"data": {
			"role": "org:admin",
			"organization": {"id": "org_abc", "name": "Acme Writers"},
			"public_user_data": {"user_id": "user_abc"}
		}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	require.NotNil(t, event.Membership)
	assert.Equal(t, "user_abc", event.Membership.Subject)
	assert.Equal(t, "org_abc", event.Membership.OrgID)
	assert.Equal(t, "Acme Writers", event.Membership.OrgName)
	assert.Equal(t, "admin", event.Membership.Role)
	assert.Nil(t, event.User)
}

func TestParseEvent_UnknownTypePassthrough(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type": "session.created", "data": {"id": "sess_1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "session.created", event.Type)
	assert.Nil(t, event.User)
	assert.Nil(t, event.Membership)
	assert.False(t, IsKnownEventType(event.Type))
}

func TestParseEvent_Errors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `}`},
		{"missing type", `{"data": {"id": "user_1"}}`},
		{"user without id", `{"type": "user.created", "data": {"first_name": "Ada"}}`},
		{"membership without org", `{"type": "organization.membership.deleted", "data": {"public_user_data": {"user_id": "user_1"}}}`},
		{"membership without user", `{"type": "organization.membership.created", "data": {"organization": {"id": "org_1"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tc.payload))
			assert.Error(t, err)
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]string{
		"org:admin":  "admin",
		"admin":      "admin",
		"Owner":      "admin",
		"org:member": "member",
		"member":     "member",
		"basic":      "member",
		"":           "member",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeRole(in), "role %q", in)
	}
}
