package assignment

import "go.uber.org/fx"

// Module provides the assignment repository to Fx.
var Module = fx.Provide(NewRepository)
