package registry

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// MockCatalog mocks the interfaces.Catalog interface
type MockCatalog struct {
	mock.Mock
}

// List mocks the List method
func (m *MockCatalog) List(ctx context.Context) ([]interfaces.ContentDescriptor, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.ContentDescriptor), args.Error(1)
}

// Insert mocks the Insert method
func (m *MockCatalog) Insert(ctx context.Context, desc interfaces.ContentDescriptor) error {
	args := m.Called(ctx, desc)
	return args.Error(0)
}

// Delete mocks the Delete method
func (m *MockCatalog) Delete(ctx context.Context, id interfaces.ContentID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
