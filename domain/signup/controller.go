package signup

import (
	"errors"
	"net/http"
	"time"

	"github.com/akeren/waitlist-gate/config/router"
	"github.com/akeren/waitlist-gate/pkg/constants"
)

// NewSignupController exposes the signup flow API. Each page load mounts one flow.
func NewSignupController(registry *Registry) *router.RESTController {
	return router.NewVersionedRESTController(
		"SignupController",
		"v1",
		"/signup",
		func(rs *router.RouterService, c *router.RESTController) {
			submitLimiter := rs.NewRateLimiter("signup-submit", constants.SignupSubmitRequestsPerMinute, time.Minute)

			rs.AddPostHandler(c, nil, "/flows", createFlowHandler(registry))
			rs.AddGetHandler(c, nil, "/flows/:id", getFlowHandler(registry))
			rs.AddDeleteHandler(c, nil, "/flows/:id", deleteFlowHandler(registry))
			rs.AddPostHandler(c, nil, "/flows/:id/form", setFormVisibilityHandler(registry))
			rs.AddPostHandler(c, nil, "/flows/:id/follow", followHandler(registry))
			rs.AddPostHandler(c, submitLimiter, "/flows/:id/submit", submitHandler(registry))
			rs.AddPostHandler(c, nil, "/flows/:id/dismiss", dismissHandler(registry))
		},
	)
}

func createFlowHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		f := registry.Create()
		router.GetLogger(ctx).Info("Signup flow created", "flow_id", f.ID())

		return router.CreatedResult(f.Snapshot(), "Signup flow")
	}
}

func getFlowHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		f, result := lookupFlow(ctx, registry)
		if result != nil {
			return result
		}

		return router.OKResult(f.Snapshot(), "Signup flow retrieved successfully")
	}
}

func deleteFlowHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		id, result := router.ParseUUIDParam(ctx, "id")
		if result != nil {
			return result
		}

		if !registry.Remove(id) {
			return router.NotFoundResult("Signup flow not found")
		}

		return router.OKResult(nil, "Signup flow closed")
	}
}

func setFormVisibilityHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		f, result := lookupFlow(ctx, registry)
		if result != nil {
			return result
		}

		var req FormVisibilityRequest
		if result := router.BindJSON(ctx, &req); result != nil {
			return result
		}

		if err := f.SetFormVisible(*req.Visible); err != nil {
			return flowErrorResult(err, Notification{}, nil)
		}

		return router.OKResult(f.Snapshot(), "Signup form updated")
	}
}

func followHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		f, result := lookupFlow(ctx, registry)
		if result != nil {
			return result
		}

		followURL, err := f.Follow()
		if err != nil {
			return flowErrorResult(err, Notification{}, nil)
		}

		return router.OKResult(FollowResponse{FollowURL: followURL, Flow: f.Snapshot()}, "Follow recorded")
	}
}

func submitHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		f, result := lookupFlow(ctx, registry)
		if result != nil {
			return result
		}

		var req SubmitRequest
		if result := router.BindJSON(ctx, &req); result != nil {
			return result
		}

		n, err := f.Submit(ctx.Request.Context(), Submission{
			Email:         req.Email,
			TwitterHandle: req.TwitterHandle,
			UserAgent:     ctx.Request.UserAgent(),
		})
		if err != nil {
			return flowErrorResult(err, n, f)
		}

		return router.CreatedResult(newFlowResponse(f, n), "Waitlist entry")
	}
}

func dismissHandler(registry *Registry) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		f, result := lookupFlow(ctx, registry)
		if result != nil {
			return result
		}

		if err := f.Dismiss(); err != nil {
			return flowErrorResult(err, Notification{}, nil)
		}

		return router.OKResult(f.Snapshot(), "Confirmation dismissed")
	}
}

func lookupFlow(ctx *router.RequestContext, registry *Registry) (*Flow, *router.ServiceResult) {
	id, result := router.ParseUUIDParam(ctx, "id")
	if result != nil {
		return nil, result
	}
	return findFlow(registry, id)
}

func findFlow(registry *Registry, id string) (*Flow, *router.ServiceResult) {
	f, err := registry.Get(id)
	if err != nil {
		return nil, flowErrorResult(err, Notification{}, nil)
	}
	return f, nil
}

// flowErrorResult maps flow errors onto HTTP statuses. The notification, and
// the flow state when f is given, travel in data so the page can render them.
func flowErrorResult(err error, n Notification, f *Flow) *router.ServiceResult {
	var data any
	if f != nil {
		data = newFlowResponse(f, n)
	} else if n != (Notification{}) {
		data = FlowResponse{Notification: &n}
	}

	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		unknownErr    *UnknownError
	)

	switch {
	case errors.As(err, &validationErr):
		return router.BadRequestResult(n.Description, data)
	case errors.As(err, &conflictErr):
		return router.ErrorResult(http.StatusConflict, n.Description, data)
	case errors.Is(err, ErrSubmissionInFlight):
		return router.ErrorResult(http.StatusConflict, "A submission is already in progress", data)
	case errors.Is(err, ErrAlreadySubmitted):
		return router.ErrorResult(http.StatusConflict, "Already submitted; dismiss the confirmation first", data)
	case errors.Is(err, ErrFlowNotFound), errors.Is(err, ErrFlowClosed):
		return router.NotFoundResult("Signup flow not found")
	case errors.As(err, &unknownErr):
		return router.ErrorResult(http.StatusBadGateway, n.Description, data)
	default:
		return router.AppErrorResult(err, data)
	}
}
