//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"GuardLane/internal/biz"
	"GuardLane/internal/conf"
	"GuardLane/internal/data"
	"GuardLane/internal/server"
	"GuardLane/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Budget, *conf.Retry, *conf.Governance, *conf.Security, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		StartMaintenanceCron,
		newApp,
	))
}
