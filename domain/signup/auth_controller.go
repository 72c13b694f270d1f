package signup

import (
	"net/url"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/config/router"
	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/pkg/constants"
)

// NewAuthController exposes the sign-in variants of the flow: one-time
// passcodes and OAuth redirects. Sessions reach flows through their
// subscriptions, never through these responses.
func NewAuthController(registry *Registry, b backend.Backend, siteURL string) *router.RESTController {
	return router.NewVersionedRESTController(
		"AuthController",
		"v1",
		"/auth",
		func(rs *router.RouterService, c *router.RESTController) {
			passcodeLimiter := rs.NewRateLimiter("auth-passcode", constants.PasscodeRequestsPerMinute, time.Minute)

			rs.AddPostHandler(c, passcodeLimiter, "/otp", requestPasscodeHandler(registry))
			rs.AddPostHandler(c, passcodeLimiter, "/otp/verify", verifyPasscodeHandler(registry))
			rs.AddPostHandler(c, nil, "/oauth/:provider", startOAuthHandler(registry))
			rs.AddGetHandler(c, nil, "/callback", oauthCallbackHandler(b, siteURL))
		},
	)
}

func requestPasscodeHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		var req PasscodeRequest
		if result := router.BindJSON(ctx, &req); result != nil {
			return result
		}

		f, result := findFlow(registry, req.FlowID)
		if result != nil {
			return result
		}

		n, err := f.RequestPasscode(ctx.Request.Context(), req.Email)
		if err != nil {
			return flowErrorResult(err, n, f)
		}

		return router.OKResult(newFlowResponse(f, n), "Passcode sent")
	}
}

func verifyPasscodeHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		var req VerifyPasscodeRequest
		if result := router.BindJSON(ctx, &req); result != nil {
			return result
		}

		f, result := findFlow(registry, req.FlowID)
		if result != nil {
			return result
		}

		n, err := f.VerifyPasscode(ctx.Request.Context(), req.Email, req.Token)
		if err != nil {
			return flowErrorResult(err, n, f)
		}

		return router.OKResult(newFlowResponse(f, n), "Signed in")
	}
}

func startOAuthHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		var req OAuthStartRequest
		if result := router.BindJSON(ctx, &req); result != nil {
			return result
		}

		target, ok := sanitizeRedirectTarget(req.RedirectTarget)
		if !ok {
			return router.BadRequestResult("redirect_target must be a path on this site", nil)
		}

		f, result := findFlow(registry, req.FlowID)
		if result != nil {
			return result
		}

		redirectURL, err := f.StartOAuth(ctx.Request.Context(), ctx.Param("provider"), target)
		if err != nil {
			return flowErrorResult(err, Notification{}, nil)
		}

		return router.OKResult(OAuthStartResponse{RedirectURL: redirectURL}, "Redirecting to provider")
	}
}

// oauthCallbackHandler is hit by the browser, so every outcome is a redirect back to the site.
func oauthCallbackHandler(b backend.Backend, siteURL string) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		logger := router.GetLogger(ctx)

		if providerErr := ctx.Query("error"); providerErr != "" {
			logger.Warn("OAuth provider returned an error", "error", providerErr, "description", ctx.Query("error_description"))
			return router.RedirectResult(siteRedirect(siteURL, "", "failed"))
		}

		state, code := ctx.Query("state"), ctx.Query("code")
		if state == "" || code == "" {
			logger.Warn("OAuth callback missing state or code")
			return router.RedirectResult(siteRedirect(siteURL, "", "failed"))
		}

		completion, err := b.CompleteOAuthRedirect(ctx.Request.Context(), state, code)
		if err != nil {
			logger.Error("Error completing OAuth sign-in", "error", err)
			return router.RedirectResult(siteRedirect(siteURL, "", "failed"))
		}

		logger.Info("OAuth sign-in completed", "flow_id", completion.FlowID, "provider", completion.Session.Provider)
		return router.RedirectResult(siteRedirect(siteURL, completion.RedirectTarget, ""))
	}
}

// sanitizeRedirectTarget accepts only site-relative paths so the callback cannot become an open redirect.
func sanitizeRedirectTarget(target string) (string, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", true
	}
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return "", false
	}

	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "", false
	}
	return u.String(), true
}

func siteRedirect(siteURL, target, authResult string) string {
	base, err := url.Parse(siteURL)
	if err != nil || siteURL == "" {
		base = &url.URL{Path: "/"}
	}

	if t, ok := sanitizeRedirectTarget(target); ok && t != "" {
		if ref, err := url.Parse(t); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	if authResult != "" {
		q := base.Query()
		q.Set("auth", authResult)
		base.RawQuery = q.Encode()
	}
	return base.String()
}
