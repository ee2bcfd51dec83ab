package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studentdocs/internal/archive"
	"studentdocs/internal/model"
	"studentdocs/internal/repository"
	"studentdocs/internal/storage"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items  []model.Document `json:"data"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// UploadInput is one file plus the metadata declared by the uploader.
type UploadInput struct {
	OwnerID     string
	Filename    string
	Category    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// DocumentService defines the use cases for handling documents.
// Every lookup is scoped: a document the caller may not access is reported as ErrNotFound.
type DocumentService interface {
	// Upload validates the declared metadata, stores the content under a fresh key, then saves
	// the record. Nothing is written when validation fails; the object is removed if the
	// record cannot be saved.
	Upload(ctx context.Context, in UploadInput) (*model.Document, error)

	// List returns one page of an owner's documents, newest first, with the owner's total.
	List(ctx context.Context, ownerID string, limit, offset int) (*DocumentListResult, error)

	// Get returns a single document the caller may access.
	Get(ctx context.Context, caller model.Identity, id string) (*model.Document, error)

	// Delete removes the stored object and then the record.
	Delete(ctx context.Context, caller model.Identity, id string) error
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store  storage.Storage
	repo   repository.DocumentRepository
	policy UploadPolicy
	log    zerolog.Logger
	now    func() time.Time
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, policy UploadPolicy, log zerolog.Logger) DocumentService {
	return &documentService{
		store:  store,
		repo:   repo,
		policy: policy,
		log:    log.With().Str("component", "documents").Logger(),
		now:    time.Now,
	}
}

func (s *documentService) Upload(ctx context.Context, in UploadInput) (*model.Document, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, invalid("owner is required")
	}
	if in.Body == nil {
		return nil, invalid("file is required")
	}
	category, contentType, err := s.policy.Validate(in.Category, in.ContentType, in.Size)
	if err != nil {
		return nil, err
	}

	// Keys are never reused: owner namespace plus a fresh UUID, keeping only the extension.
	displayName := archive.SanitizeName(in.Filename)
	ext := strings.ToLower(path.Ext(displayName))
	key := path.Join("documents", url.PathEscape(in.OwnerID), uuid.NewString()+ext)

	objInfo, err := s.store.Put(ctx, key, in.Body, storage.PutObjectOptions{
		Size:        in.Size,
		ContentType: contentType,
		Metadata: map[string]string{
			"owner-id": in.OwnerID,
			"category": string(category),
		},
	})
	if err != nil {
		return nil, unavailable("upload object", err)
	}

	doc := &model.Document{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		DisplayName: displayName,
		StorageKey:  objInfo.Key,
		Category:    category,
		ContentType: contentType,
		Size:        in.Size,
		CreatedAt:   s.now().UTC(),
	}
	stored, err := s.repo.Create(ctx, doc)
	if err != nil {
		// Rollback: the record never existed, so the object must not either.
		rbCtx := context.WithoutCancel(ctx)
		if delErr := s.store.Delete(rbCtx, key); delErr != nil {
			s.log.Error().
				Err(delErr).
				Str("storage_key", key).
				Str("owner_id", in.OwnerID).
				Bool("operator_attention", true).
				Msg("orphan object after failed insert")
			return nil, fmt.Errorf("%w: save record: %v; remove object: %v", ErrInconsistentState, err, delErr)
		}
		return nil, fmt.Errorf("save document: %w", err)
	}

	s.log.Info().
		Str("document_id", stored.ID).
		Str("owner_id", stored.OwnerID).
		Str("category", string(stored.Category)).
		Int64("size", stored.Size).
		Msg("document uploaded")
	return stored, nil
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, ownerID string, limit, offset int) (*DocumentListResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, invalid("owner is required")
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.ListByOwner(ctx, ownerID, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	items := res.Items
	if items == nil {
		items = []model.Document{}
	}
	return &DocumentListResult{Items: items, Total: res.Total, Limit: limit, Offset: offset}, nil
}

func (s *documentService) Get(ctx context.Context, caller model.Identity, id string) (*model.Document, error) {
	return s.accessible(ctx, caller, id)
}

// Delete removes the object first. If that fails nothing has changed; if the record then
// cannot be removed the document is left half-deleted and reported as inconsistent.
func (s *documentService) Delete(ctx context.Context, caller model.Identity, id string) error {
	doc, err := s.accessible(ctx, caller, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, doc.StorageKey); err != nil {
		return unavailable("delete object", err)
	}

	if err := s.repo.Delete(context.WithoutCancel(ctx), doc.ID); err != nil {
		// Removed concurrently by another request.
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		s.log.Error().
			Err(err).
			Str("document_id", doc.ID).
			Str("owner_id", doc.OwnerID).
			Bool("operator_attention", true).
			Msg("object deleted but record remains")
		return fmt.Errorf("%w: object removed, record %s remains: %v", ErrInconsistentState, doc.ID, err)
	}

	s.log.Info().Str("document_id", doc.ID).Str("owner_id", doc.OwnerID).Msg("document deleted")
	return nil
}

func (s *documentService) accessible(ctx context.Context, caller model.Identity, id string) (*model.Document, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, invalid("malformed document id %q", id)
	}
	doc, err := s.repo.FindByID(ctx, parsed.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	if !caller.CanAccess(doc.OwnerID) {
		return nil, ErrForbidden
	}
	return doc, nil
}
