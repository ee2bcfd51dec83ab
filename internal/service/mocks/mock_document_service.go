package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"studentdocs/internal/model"
	"studentdocs/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Upload(ctx context.Context, in service.UploadInput) (*model.Document, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) List(ctx context.Context, ownerID string, limit, offset int) (*service.DocumentListResult, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentListResult), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, caller model.Identity, id string) (*model.Document, error) {
	args := m.Called(ctx, caller, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, caller model.Identity, id string) error {
	args := m.Called(ctx, caller, id)
	return args.Error(0)
}

type MockRetrievalService struct {
	mock.Mock
}

func (m *MockRetrievalService) Resolve(ctx context.Context, req service.RetrieveRequest) (*service.RetrieveResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RetrieveResult), args.Error(1)
}
