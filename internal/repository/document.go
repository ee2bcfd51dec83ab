package repository

import (
	"context"

	"studentdocs/internal/model"
)

// DocumentRepository defines data access for documents using SQL queries only.
// Ownership decisions belong to the service layer; lookups return rows regardless of owner.
type DocumentRepository interface {
	// Create inserts a new document record and returns the stored row.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID, or sql.ErrNoRows.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// FindByIDs returns every existing row among ids in one round trip.
	// Missing ids are simply absent from the result.
	FindByIDs(ctx context.Context, ids []string) ([]model.Document, error)

	// ListByOwner returns one page of an owner's documents, newest first, and the owner's total.
	ListByOwner(ctx context.Context, ownerID string, pq PageQuery) (*PageResult[model.Document], error)

	// Delete removes a document by ID. It returns sql.ErrNoRows if nothing was removed.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
