//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
)

var CoreInfraSet = wire.NewSet(
	NewConfig,
	NewMetricsRegistry,
	NewMetrics,
	NewHealthTracker,
	NewStore,
	NewSourceCache,
)

var RegistrySet = wire.NewSet(
	NewCustomSource,
	NewScheduler,
	NewProcessSupervisor,
	NewProcessLauncher,
	NewContainerLauncher,
)

var GatewaySet = wire.NewSet(
	NewGateway,
	NewSurface,
	NewClientRegistry,
	NewEngine,
	NewToolset,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	RegistrySet,
	GatewaySet,
	NewApplication,
)
