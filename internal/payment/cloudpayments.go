package payment

import "context"

// CloudPaymentsGateway mirrors RobokassaGateway: a named provider without a
// live integration.
type CloudPaymentsGateway struct{}

func NewCloudPaymentsGateway() *CloudPaymentsGateway { return &CloudPaymentsGateway{} }

func (*CloudPaymentsGateway) CreatePayment(context.Context, CreateRequest) (CreateResult, error) {
	return CreateResult{}, ErrProviderUnsupported
}

func (*CloudPaymentsGateway) Status(context.Context, string) (StatusResult, error) {
	return StatusResult{}, ErrProviderUnsupported
}
