package waitlist

import (
	"time"

	"github.com/akeren/waitlist-gate/config/router"
)

const waitlistStatsRequestsPerMinute = 30

// NewWaitlistController exposes read-only waitlist figures. Writes only happen through the signup flow.
func NewWaitlistController(service WaitlistService) *router.RESTController {
	return router.NewVersionedRESTController(
		"WaitlistController",
		"v1",
		"/waitlist",
		func(rs *router.RouterService, c *router.RESTController) {
			statsLimiter := rs.NewRateLimiter("waitlist-stats", waitlistStatsRequestsPerMinute, time.Minute)

			rs.AddGetHandler(c, statsLimiter, "/stats", getWaitlistStatsHandler(service))
		},
	)
}

func getWaitlistStatsHandler(service WaitlistService) router.HandlerFunction {
	return func(ctx *router.RequestContext) *router.ServiceResult {
		response, err := service.GetStats(ctx.Request.Context())
		if err != nil {
			return router.AppErrorResult(err, nil)
		}

		return router.OKResult(response, "Waitlist stats retrieved successfully")
	}
}
