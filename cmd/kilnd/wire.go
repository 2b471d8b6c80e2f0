//go:build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/kilnworks/kiln/cmd/kilnd/api"
	"github.com/kilnworks/kiln/lib/providers"
)

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvidePaths,
		providers.ProvideTelemetry,
		providers.ProvideLogger,
		providers.ProvideEngine,
		providers.ProvideResolver,
		providers.ProvideImageManager,
		providers.ProvideBuildManager,
		providers.ProvideRegistry,
		providers.ProvideDefaultSpec,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
