package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/vrelay/internal/provider"
)

// Provider is a mock type for the provider.Provider type.
type Provider struct {
	mock.Mock
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates a new instance of Provider. It also registers a cleanup function to assert the mocks expectations.
func NewProvider(t interface {
	mock.TestingT
	Cleanup(func())
}) *Provider {
	m := &Provider{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (_m *Provider) Send(ctx context.Context, msg provider.OutboundMessage) (provider.SendResult, error) {
	ret := _m.Called(ctx, msg)

	if len(ret) == 0 {
		panic("no return value specified for Send")
	}

	if rf, ok := ret.Get(0).(func(context.Context, provider.OutboundMessage) (provider.SendResult, error)); ok {
		return rf(ctx, msg)
	}
	return ret.Get(0).(provider.SendResult), ret.Error(1)
}

func (_m *Provider) ProvisionAddress(ctx context.Context, address string) (provider.Route, error) {
	ret := _m.Called(ctx, address)

	if len(ret) == 0 {
		panic("no return value specified for ProvisionAddress")
	}

	return ret.Get(0).(provider.Route), ret.Error(1)
}

func (_m *Provider) ValidateAddress(ctx context.Context, address string) (provider.Validation, error) {
	ret := _m.Called(ctx, address)

	if len(ret) == 0 {
		panic("no return value specified for ValidateAddress")
	}

	return ret.Get(0).(provider.Validation), ret.Error(1)
}
