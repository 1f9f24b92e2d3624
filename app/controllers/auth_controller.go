package controllers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quillforge/quillforge/internal/pkg/database"
	"github.com/quillforge/quillforge/internal/pkg/exttoken"
	"github.com/quillforge/quillforge/internal/pkg/metrics/counter"
	"github.com/quillforge/quillforge/internal/pkg/middleware"
	"github.com/quillforge/quillforge/internal/pkg/usercontext"
)

type authorizeRequest struct {
	CodeChallenge       string `json:"code_challenge" form:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method" form:"code_challenge_method"`
	State               string `json:"state" form:"state"`
	Label               string `json:"label" form:"label"`
}

type tokenRequest struct {
	GrantType        string `json:"grant_type" form:"grant_type"`
	Code             string `json:"code" form:"code"`
	CodeVerifier     string `json:"code_verifier" form:"code_verifier"`
	RefreshToken     string `json:"refresh_token" form:"refresh_token"`
	PriorAccessToken string `json:"prior_access_token" form:"prior_access_token"`
}

// HandleExtensionAuthorize issues a one-time authorization code bound to the
// caller's identity session and PKCE challenge. The browser relays the code
// to the editor extension, which exchanges it at the token endpoint.
func HandleExtensionAuthorize(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Authentication required")
	}

	var req authorizeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if strings.TrimSpace(req.State) == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "state is required")
	}

	code, err := exttoken.CreateAuthorizationCode(exttoken.AuthorizationGrant{
		Subject:       userCtx.Subject,
		SessionID:     userCtx.SessionID,
		CodeChallenge: strings.TrimSpace(req.CodeChallenge),
		Label:         strings.TrimSpace(req.Label),
	}, strings.TrimSpace(req.CodeChallengeMethod))
	if err != nil {
		if errors.Is(err, exttoken.ErrInvalidGrant) {
			return jsonError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
		}
		log.Printf("extension authorize failed for %s: %v", userCtx.Subject, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not create authorization code")
	}

	return jsonSuccess(c, fiber.Map{
		"code":       code,
		"state":      req.State,
		"expires_in": 300,
	})
}

// HandleExtensionToken exchanges an authorization code (PKCE) or a refresh
// token for a fresh access/refresh pair.
func HandleExtensionToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}

	svc, err := exttoken.NewServiceFromDB(database.GetDB())
	if err != nil {
		log.Printf("extension token service: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "configuration_error", "Token signing is not configured")
	}

	switch req.GrantType {
	case "authorization_code":
		grant, err := exttoken.ConsumeAuthorizationCode(strings.TrimSpace(req.Code), strings.TrimSpace(req.CodeVerifier))
		if err != nil {
			if errors.Is(err, exttoken.ErrInvalidGrant) {
				return jsonError(c, fiber.StatusBadRequest, "invalid_grant", err.Error())
			}
			log.Printf("authorization code consume failed: %v", err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Code exchange failed")
		}

		pair, err := svc.Issue(grant.Subject, grant.SessionID, grant.Label)
		if err != nil {
			return tokenIssueError(c, grant.Subject, err)
		}
		return tokenPairResponse(c, pair)

	case "refresh_token":
		if strings.TrimSpace(req.RefreshToken) == "" {
			return jsonError(c, fiber.StatusBadRequest, "invalid_request", "refresh_token is required")
		}
		pair, err := svc.Refresh(strings.TrimSpace(req.RefreshToken), strings.TrimSpace(req.PriorAccessToken))
		if err != nil {
			if errors.Is(err, exttoken.ErrInvalidGrant) {
				return jsonError(c, fiber.StatusBadRequest, "invalid_grant", "Refresh token is invalid or expired")
			}
			log.Printf("extension token refresh failed: %v", err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Token refresh failed")
		}
		return tokenPairResponse(c, pair)

	default:
		return jsonError(c, fiber.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

// HandleExtensionRevoke revokes the presented access credential. Revoking a
// credential that is already revoked or unknown reports not_found without
// being treated as a fault.
func HandleExtensionRevoke(c *fiber.Ctx) error {
	token := middleware.ExtractBearerToken(c)
	if token == "" {
		var body struct {
			Token string `json:"token" form:"token"`
		}
		_ = c.BodyParser(&body)
		token = strings.TrimSpace(body.Token)
	}
	if token == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "No credential supplied")
	}

	svc, err := exttoken.NewServiceFromDB(database.GetDB())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "configuration_error", "Token signing is not configured")
	}

	if err := svc.Revoke(token); err != nil {
		switch {
		case errors.Is(err, exttoken.ErrTokenNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success":           false,
				"error":             "not_found",
				"error_description": "No matching active credential",
			})
		case errors.Is(err, exttoken.ErrInvalidCredential):
			return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Credential is malformed or expired")
		default:
			log.Printf("extension token revoke failed: %v", err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Revocation failed")
		}
	}
	return jsonSuccess(c, fiber.Map{"revoked": true})
}

// HandleExtensionValidate is the extension's "am I still logged in" probe.
func HandleExtensionValidate(c *fiber.Ctx) error {
	token := middleware.ExtractBearerToken(c)
	if token == "" {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Missing bearer credential")
	}

	svc, err := exttoken.NewServiceFromDB(database.GetDB())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "configuration_error", "Token signing is not configured")
	}

	subject, err := svc.Validate(token)
	if err != nil {
		if errors.Is(err, exttoken.ErrInvalidCredential) {
			return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Credential is invalid, revoked or expired")
		}
		log.Printf("extension token validate failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Validation failed")
	}

	// Usage counter is best effort; failure never blocks the probe.
	if user, lookupErr := exttoken.NewRepository(database.GetDB()).GetUserBySubject(subject); lookupErr == nil {
		if cntErr := counter.AddTokenValidation(user.ID); cntErr != nil {
			log.Printf("validation counter for user %d: %v", user.ID, cntErr)
		}
	}

	return jsonSuccess(c, fiber.Map{"subject": subject})
}

func tokenIssueError(c *fiber.Ctx, subject string, err error) error {
	switch {
	case errors.Is(err, exttoken.ErrUserNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "No account for this identity; call /users/init first")
	case errors.Is(err, exttoken.ErrPersistence):
		log.Printf("extension token persist failed for %s: %v", subject, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not persist token")
	default:
		log.Printf("extension token issue failed for %s: %v", subject, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Token issuance failed")
	}
}

func tokenPairResponse(c *fiber.Ctx, pair *exttoken.TokenPair) error {
	return jsonSuccess(c, fiber.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_at":    pair.ExpiresAt.UTC().Format(time.RFC3339),
		"session_id":    pair.SessionID,
	})
}
