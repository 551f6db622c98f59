package payment

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlfabankCreateProd(t *testing.T) {
	cfg := stubConfig{alfa: AlfabankConfig{
		Token:       "merchant-token",
		Environment: "prod",
		Stages:      2,
		Language:    "ru",
		ReturnURL:   "https://amoria.example/pay/success",
		FailURL:     "https://amoria.example/pay/fail",
	}}
	gw := NewAlfabankGateway(cfg)

	result, err := gw.CreatePayment(context.Background(), CreateRequest{Amount: "1500", Email: "u@e.com"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.PaymentID, "alfa-"))
	require.Equal(t, AffordanceScript, result.Affordance.Kind)

	script := result.Affordance.Script
	require.NotNil(t, script)
	require.Equal(t, alfabankScriptProd, script.Src)
	require.Equal(t, "merchant-token", script.Token)
	require.Equal(t, "prod", script.Environment)
	require.Equal(t, 2, script.Stages)
	require.Equal(t, "ru", script.Language)
	require.Equal(t, "1500", script.Amount)
	require.Equal(t, "rub", script.AmountUnit)
}

func TestAlfabankCreateTestEnvironment(t *testing.T) {
	gw := NewAlfabankGateway(stubConfig{alfa: AlfabankConfig{Token: "t", Environment: "test"}})
	result, err := gw.CreatePayment(context.Background(), CreateRequest{Amount: "1500"})
	require.NoError(t, err)
	require.Equal(t, alfabankScriptTest, result.Affordance.Script.Src)
	// Defaults applied when the config leaves them empty.
	require.Equal(t, 1, result.Affordance.Script.Stages)
	require.Equal(t, "ru", result.Affordance.Script.Language)
}

func TestAlfabankMinorUnits(t *testing.T) {
	gw := NewAlfabankGateway(stubConfig{alfa: AlfabankConfig{Token: "t", Environment: "prod", AmountInMinor: true}})
	result, err := gw.CreatePayment(context.Background(), CreateRequest{Amount: "1500.50"})
	require.NoError(t, err)
	require.Equal(t, "150050", result.Affordance.Script.Amount)
	require.Equal(t, "kopecks", result.Affordance.Script.AmountUnit)
}

func TestAlfabankStatusUnavailable(t *testing.T) {
	gw := NewAlfabankGateway(stubConfig{alfa: AlfabankConfig{Token: "t"}})
	_, err := gw.Status(context.Background(), "alfa-1")
	require.Error(t, err)
}

func TestStubProvidersRefuseWithoutNetwork(t *testing.T) {
	for _, gw := range []Gateway{NewRobokassaGateway(), NewCloudPaymentsGateway()} {
		_, err := gw.CreatePayment(context.Background(), CreateRequest{Amount: "1500"})
		require.ErrorIs(t, err, ErrProviderUnsupported)
		_, err = gw.Status(context.Background(), "x")
		require.ErrorIs(t, err, ErrProviderUnsupported)
	}
}
