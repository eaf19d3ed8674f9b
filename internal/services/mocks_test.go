package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/headlinehero/backend/internal/generator"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	args := m.Called(orderID, paymentID, signature)
	return args.Bool(0), args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req generator.Request) ([]string, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
