package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quillforge/quillforge/internal/pkg/env"
)

const defaultIdentityAPIBaseURL = "https://api.identity.quillforge.dev/v1"

// ErrMembershipNotFound signals the subject holds no membership in the org.
var ErrMembershipNotFound = errors.New("membership not found")

// Client talks to the identity provider's management REST API. It is the
// source of truth for organization membership when token claims miss.
type Client struct {
	APIBaseURL string
	APISecret  string

	HTTPClient *http.Client
}

// Organization is the provider's view of an organization.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Membership is one user's membership in an organization.
type Membership struct {
	OrgID   string `json:"organization_id"`
	Subject string `json:"user_id"`
	Role    string `json:"role"`
}

// NewClientFromEnv builds a client from IDENTITY_API_BASE_URL and
// IDENTITY_API_SECRET.
func NewClientFromEnv() *Client {
	return &Client{
		APIBaseURL: strings.TrimRight(env.GetEnv("IDENTITY_API_BASE_URL", defaultIdentityAPIBaseURL), "/"),
		APISecret:  strings.TrimSpace(env.GetEnv("IDENTITY_API_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetOrganization fetches one organization by its external id.
func (c *Client) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, errors.New("org id is required")
	}
	var org Organization
	if err := c.getJSON(ctx, "/organizations/"+url.PathEscape(orgID), &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// ListOrganizationMemberships fetches all memberships of an organization.
func (c *Client) ListOrganizationMemberships(ctx context.Context, orgID string) ([]Membership, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, errors.New("org id is required")
	}
	var out struct {
		Data []struct {
			Role         string `json:"role"`
			Organization struct {
				ID string `json:"id"`
			} `json:"organization"`
			PublicUserData struct {
				UserID string `json:"user_id"`
			} `json:"public_user_data"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/organizations/"+url.PathEscape(orgID)+"/memberships", &out); err != nil {
		return nil, err
	}
	memberships := make([]Membership, 0, len(out.Data))
	for _, m := range out.Data {
		memberships = append(memberships, Membership{
			OrgID:   m.Organization.ID,
			Subject: m.PublicUserData.UserID,
			Role:    normalizeRole(m.Role),
		})
	}
	return memberships, nil
}

// GetUserMembership resolves one subject's role in an organization.
// Returns ErrMembershipNotFound when the subject is not a member.
func (c *Client) GetUserMembership(ctx context.Context, orgID, subject string) (*Membership, error) {
	memberships, err := c.ListOrganizationMemberships(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for i := range memberships {
		if memberships[i].Subject == subject {
			return &memberships[i], nil
		}
	}
	return nil, ErrMembershipNotFound
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if strings.TrimSpace(c.APISecret) == "" {
		return errors.New("IDENTITY_API_SECRET is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APISecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrMembershipNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identity api %s returned status %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return json.Unmarshal(body, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
