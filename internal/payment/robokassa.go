package payment

import "context"

// RobokassaGateway is selectable in the admin panel but not wired to the
// live API yet. Both operations fail fast without touching the network.
type RobokassaGateway struct{}

func NewRobokassaGateway() *RobokassaGateway { return &RobokassaGateway{} }

func (*RobokassaGateway) CreatePayment(context.Context, CreateRequest) (CreateResult, error) {
	return CreateResult{}, ErrProviderUnsupported
}

func (*RobokassaGateway) Status(context.Context, string) (StatusResult, error) {
	return StatusResult{}, ErrProviderUnsupported
}
