package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/quillforge/quillforge/app/controllers"
	"github.com/quillforge/quillforge/internal/pkg/constants"
	"github.com/quillforge/quillforge/internal/pkg/env"
	"github.com/quillforge/quillforge/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIPrefix, limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		// Webhook retries from the providers must not be rate limited.
		Next: func(c *fiber.Ctx) bool {
			path := c.Path()
			return path == constants.APIPrefix+constants.APIV1+constants.PaymentsWebhookRoute ||
				path == constants.APIPrefix+constants.APIV1+constants.IdentityWebhookRoute
		},
	}))

	v1 := api.Group(constants.APIV1)

	v1.Get(constants.PingRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	v1.Get(constants.PlansRoute, controllers.HandleGetPlans)

	// Extension token lifecycle. The token endpoint authenticates via the
	// PKCE code or refresh token it carries, not a bearer header.
	v1.Post(constants.ExtensionTokenRoute, controllers.HandleExtensionToken)
	v1.Post(constants.ExtensionRevokeRoute, controllers.HandleExtensionRevoke)
	v1.Get(constants.ExtensionValidateRoute, controllers.HandleExtensionValidate)

	// Webhooks authenticate via signature headers.
	v1.Post(constants.PaymentsWebhookRoute, controllers.HandlePaymentsWebhook)
	v1.Post(constants.IdentityWebhookRoute, controllers.HandleIdentityWebhook)

	// Bearer-authenticated endpoints (identity-provider credential).
	bearerAuth := middleware.BearerAuthMiddleware()
	v1.Post(constants.UserInitRoute, bearerAuth, controllers.HandleUserInit)
	v1.Get(constants.UserMeRoute, bearerAuth, controllers.HandleGetMe)
	v1.Get(constants.CreditsRoute, bearerAuth, controllers.HandleGetCredits)
	v1.Post(constants.ExtensionAuthorizeRoute, bearerAuth, controllers.HandleExtensionAuthorize)
	v1.Post(constants.BillingCheckoutRoute, bearerAuth, controllers.HandleCreateCheckout)
	v1.Post(constants.BillingPortalRoute, bearerAuth, controllers.HandleCreatePortal)
	v1.Get(constants.OrgMembershipRoute, bearerAuth, controllers.HandleGetMembership)
	v1.Post(constants.OrgSeatsRoute, bearerAuth, controllers.HandleAssignSeat)
	v1.Delete(constants.OrgSeatRoute, bearerAuth, controllers.HandleRemoveSeat)

	// Operator endpoints, shared-key guarded.
	internalKey := middleware.InternalKeyMiddleware(env.GetEnv("INTERNAL_API_KEY", ""))
	v1.Post(constants.InternalCreditsResetRoute, internalKey, controllers.HandleResetMonthlyCredits)
	v1.Post(constants.InternalCountersFlushRoute, internalKey, controllers.HandleFlushCounters)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
