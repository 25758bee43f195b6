// Package service wires the control-plane use cases to the transport
// layer. It translates between wire-level request/reply shapes and the
// biz layer's domain types.
package service

import (
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewGuardLaneService,
)
