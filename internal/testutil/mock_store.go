package testutil

import (
	"context"

	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

// MockStore implements ports.Store for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetByKey(ctx context.Context, key string) (*domain.License, error) {
	args := m.Called(key)
	return args.Get(0).(*domain.License), args.Error(1)
}

func (m *MockStore) GetAll(ctx context.Context) ([]domain.License, error) {
	args := m.Called()
	return args.Get(0).([]domain.License), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, lic *domain.License) error {
	args := m.Called(lic)
	return args.Error(0)
}

func (m *MockStore) Update(ctx context.Context, key string, upd domain.LicenseUpdate) (*domain.License, error) {
	args := m.Called(key, upd)
	return args.Get(0).(*domain.License), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) AddActivation(ctx context.Context, key, machineCode, ip string) (bool, error) {
	args := m.Called(key, machineCode, ip)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) UpdateVerification(ctx context.Context, key, machineCode, ip string) (bool, error) {
	args := m.Called(key, machineCode, ip)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) CountActivations(ctx context.Context, key string) (int, error) {
	args := m.Called(key)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(key)
	return args.Error(0)
}

func (m *MockStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	args := m.Called(keyHash)
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockStore) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	args := m.Called()
	return args.Get(0).([]domain.APIKey), args.Error(1)
}

func (m *MockStore) RevokeAPIKey(ctx context.Context, id string) error {
	args := m.Called(id)
	return args.Error(0)
}
