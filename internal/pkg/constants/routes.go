package constants

// Static route constants
const (
	APIPrefix = "/api"
	APIV1     = "/v1"

	PingRoute  = "/ping"
	PlansRoute = "/plans"

	UserInitRoute = "/users/init"
	UserMeRoute   = "/users/me"
	CreditsRoute  = "/credits"

	ExtensionAuthorizeRoute = "/auth/extension/authorize"
	ExtensionTokenRoute     = "/auth/extension/token"
	ExtensionRevokeRoute    = "/auth/extension/revoke"
	ExtensionValidateRoute  = "/auth/extension/validate"

	BillingCheckoutRoute = "/billing/checkout"
	BillingPortalRoute   = "/billing/portal"

	OrgMembershipRoute = "/orgs/:orgID/membership"
	OrgSeatsRoute      = "/orgs/:orgID/seats"
	OrgSeatRoute       = "/orgs/:orgID/seats/:subject"

	PaymentsWebhookRoute = "/webhooks/payments"
	IdentityWebhookRoute = "/webhooks/identity"

	InternalCreditsResetRoute  = "/internal/credits/reset"
	InternalCountersFlushRoute = "/internal/counters/flush"
)
