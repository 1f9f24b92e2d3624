package identity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Lifecycle event types delivered by the identity provider.
const (
	EventUserCreated        = "user.created"
	EventUserUpdated        = "user.updated"
	EventUserDeleted        = "user.deleted"
	EventMembershipCreated  = "organization.membership.created"
	EventMembershipDeleted  = "organization.membership.deleted"
)

// UserEvent is the payload of user.* lifecycle events.
type UserEvent struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// MembershipEvent is the payload of organization.membership.* events.
type MembershipEvent struct {
	Subject string
	OrgID   string
	OrgName string
	Role    string
}

// Event is a tagged union over identity lifecycle payloads. Handlers switch
// on Type and read exactly one of the payload fields.
type Event struct {
	Type       string
	User       *UserEvent
	Membership *MembershipEvent
}

// IsKnownEventType reports whether this system processes the event type.
// Unknown types are acknowledged and ignored.
func IsKnownEventType(t string) bool {
	switch t {
	case EventUserCreated, EventUserUpdated, EventUserDeleted,
		EventMembershipCreated, EventMembershipDeleted:
		return true
	default:
		return false
	}
}

type rawEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rawUserData struct {
	ID             string `json:"id"`
	ImageURL       string `json:"image_url"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	EmailAddresses []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
}

type rawMembershipData struct {
	Role         string `json:"role"`
	Organization struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"organization"`
	PublicUserData struct {
		UserID string `json:"user_id"`
	} `json:"public_user_data"`
}

// ParseEvent discriminates on the envelope type before touching payload
// fields, so malformed payloads of one shape cannot be misread as another.
func ParseEvent(payload []byte) (*Event, error) {
	var env rawEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("invalid webhook envelope: %w", err)
	}
	eventType := strings.TrimSpace(env.Type)
	if eventType == "" {
		return nil, fmt.Errorf("webhook envelope has no type")
	}

	event := &Event{Type: eventType}
	switch eventType {
	case EventUserCreated, EventUserUpdated, EventUserDeleted:
		var data rawUserData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", eventType, err)
		}
		if data.ID == "" {
			return nil, fmt.Errorf("%s payload has no user id", eventType)
		}
		event.User = &UserEvent{
			Subject:   data.ID,
			Email:     data.primaryEmail(),
			Name:      strings.TrimSpace(data.FirstName + " " + data.LastName),
			AvatarURL: data.ImageURL,
		}
	case EventMembershipCreated, EventMembershipDeleted:
		var data rawMembershipData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", eventType, err)
		}
		if data.Organization.ID == "" || data.PublicUserData.UserID == "" {
			return nil, fmt.Errorf("%s payload is missing org or user id", eventType)
		}
		event.Membership = &MembershipEvent{
			Subject: data.PublicUserData.UserID,
			OrgID:   data.Organization.ID,
			OrgName: data.Organization.Name,
			Role:    normalizeRole(data.Role),
		}
	}
	return event, nil
}

func (d *rawUserData) primaryEmail() string {
	for _, addr := range d.EmailAddresses {
		if addr.ID != "" && addr.ID == d.PrimaryEmailAddressID {
			return addr.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

func normalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	r = strings.TrimPrefix(r, "org:")
	switch r {
	case "admin", "owner":
		return "admin"
	default:
		return "member"
	}
}
