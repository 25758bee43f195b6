package server

import (
	"strconv"

	"GuardLane/internal/conf"
	"GuardLane/internal/model"
	"GuardLane/internal/server/middleware"
	"GuardLane/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer builds the admin HTTP server. It carries the operator
// surface: budget operations, breaker inspection and reset, dead-letter
// management, and governance administration.
func NewHTTPServer(c *conf.Server, svc *service.GuardLaneService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logger),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, svc)

	return srv
}

func registerRoutes(srv *http.Server, svc *service.GuardLaneService) {
	r := srv.Route("/")

	// Budget controller
	r.POST("/v1/budget/tokens", func(ctx http.Context) error {
		var in service.RequestTokensRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		out, err := svc.RequestTokens(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/budget/reservations/{id}/commit", func(ctx http.Context) error {
		var in service.CommitUsageRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.ReservationID = ctx.Vars().Get("id")
		out, err := svc.CommitUsage(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/budget/reservations/{id}/release", func(ctx http.Context) error {
		out, err := svc.ReleaseReservation(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/v1/budget/accounts/{tenant}/{project}", func(ctx http.Context) error {
		out, err := svc.GetAccount(ctx, ctx.Vars().Get("tenant"), ctx.Vars().Get("project"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/v1/budget/accounts/{tenant}/{project}/transactions", func(ctx http.Context) error {
		limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
		out, err := svc.ListTransactions(ctx, ctx.Vars().Get("tenant"), ctx.Vars().Get("project"), limit)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	// Circuit breakers
	r.GET("/v1/breakers", func(ctx http.Context) error {
		out, err := svc.BreakerStats(ctx)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/breakers/reset", func(ctx http.Context) error {
		out, err := svc.ResetBreakers(ctx)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	// Dead letter store
	r.POST("/v1/deadletters", func(ctx http.Context) error {
		var in service.EnqueueDeadLetterRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		out, err := svc.EnqueueDeadLetter(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/v1/deadletters", func(ctx http.Context) error {
		includeResolved, _ := strconv.ParseBool(ctx.Query().Get("include_resolved"))
		limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
		offset, _ := strconv.Atoi(ctx.Query().Get("offset"))
		out, err := svc.ListDeadLetters(ctx, includeResolved, limit, offset)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/v1/deadletters/{id}", func(ctx http.Context) error {
		out, err := svc.GetDeadLetter(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/deadletters/{id}/resolve", func(ctx http.Context) error {
		var in service.ResolveDeadLetterRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		out, err := svc.ResolveDeadLetter(ctx, ctx.Vars().Get("id"), &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	// Governance limiter
	r.GET("/v1/governance/roles/{role}/can-auto-update", func(ctx http.Context) error {
		out, err := svc.CanAutoUpdate(ctx, ctx.Vars().Get("role"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/governance/roles/{role}/auto-update", func(ctx http.Context) error {
		out, err := svc.TryAutoUpdate(ctx, ctx.Vars().Get("role"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/governance/roles/{role}/updates", func(ctx http.Context) error {
		out, err := svc.RecordUpdate(ctx, ctx.Vars().Get("role"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/v1/governance/roles/{role}", func(ctx http.Context) error {
		out, err := svc.GetGovernanceRule(ctx, ctx.Vars().Get("role"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.PUT("/v1/governance/rules", func(ctx http.Context) error {
		var in service.UpsertGovernanceRuleRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		out, err := svc.UpsertGovernanceRule(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/governance/approvals", func(ctx http.Context) error {
		var in service.RequestApprovalRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		out, err := svc.RequestApproval(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/v1/governance/approvals", func(ctx http.Context) error {
		status := model.ApprovalStatus(ctx.Query().Get("status"))
		if status == "" {
			status = model.ApprovalPending
		}
		limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
		out, err := svc.ListApprovals(ctx, status, limit)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/governance/approvals/{id}/approve", func(ctx http.Context) error {
		var in service.DecideApprovalRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		out, err := svc.ApproveUpdate(ctx, ctx.Vars().Get("id"), &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/v1/governance/approvals/{id}/reject", func(ctx http.Context) error {
		var in service.DecideApprovalRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		out, err := svc.RejectUpdate(ctx, ctx.Vars().Get("id"), &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}
