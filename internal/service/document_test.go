package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"studentdocs/internal/config"
	"studentdocs/internal/model"
	"studentdocs/internal/repository"
	repoMocks "studentdocs/internal/repository/mocks"
	"studentdocs/internal/storage"
	storeMocks "studentdocs/internal/storage/mocks"
)

var (
	student = model.Identity{UserID: ownerU1, Role: model.RoleStudent}
	other   = model.Identity{UserID: ownerU2, Role: model.RoleStudent}
	admin   = model.Identity{UserID: "staff-1", Role: model.RoleAdmin}
)

func testPolicy() UploadPolicy {
	return NewUploadPolicy(config.UploadConfig{
		MaxSizeBytes: 10 << 20,
		AllowedTypes: map[string][]string{
			"passport": {"application/pdf", "image/jpeg", "image/png"},
			"resume":   {"application/pdf"},
		},
	})
}

func newDocumentService(store storage.Storage, repo repository.DocumentRepository) *documentService {
	svc := NewDocumentService(store, repo, testPolicy(), zerolog.Nop()).(*documentService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestDocumentService_Upload(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		in         UploadInput
		setupMocks func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository)
		wantErr    error
		wantErrMsg string
		check      func(t *testing.T, doc *model.Document)
	}{
		{
			name: "happy path",
			in:   UploadInput{OwnerID: ownerU1, Filename: "../scans/Passport.PDF", Category: "Passport", ContentType: "application/pdf; charset=binary", Size: 11},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mStore.On("Put", ctx, mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "documents/u1/") && strings.HasSuffix(key, ".pdf")
				}), mock.Anything, storage.PutObjectOptions{
					Size:        11,
					ContentType: "application/pdf",
					Metadata:    map[string]string{"owner-id": ownerU1, "category": "passport"},
				}).Return(func(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
					return storage.ObjectInfo{Key: key, Size: opt.Size, ContentType: opt.ContentType}
				}, nil)

				mRepo.On("Create", ctx, mock.MatchedBy(func(doc *model.Document) bool {
					return doc.OwnerID == ownerU1 &&
						doc.DisplayName == "Passport.PDF" &&
						doc.Category == model.CategoryPassport &&
						strings.HasPrefix(doc.StorageKey, "documents/u1/") &&
						doc.CreatedAt.Equal(fixedNow)
				})).Return(func() *model.Document { d := doc(idA, ownerU1, "Passport.PDF"); return &d }(), nil)
			},
			check: func(t *testing.T, d *model.Document) {
				assert.Equal(t, idA, d.ID)
			},
		},
		{
			name:       "unknown category",
			in:         UploadInput{OwnerID: ownerU1, Filename: "x.pdf", Category: "visa", ContentType: "application/pdf", Size: 1},
			setupMocks: func(*storeMocks.MockStorage, *repoMocks.MockDocumentRepository) {},
			wantErr:    ErrInvalidCategory,
		},
		{
			name:       "content type not allowed, nothing stored",
			in:         UploadInput{OwnerID: ownerU1, Filename: "x.zip", Category: "passport", ContentType: "application/zip", Size: 1},
			setupMocks: func(*storeMocks.MockStorage, *repoMocks.MockDocumentRepository) {},
			wantErr:    ErrUnsupportedContentType,
		},
		{
			name:       "too large",
			in:         UploadInput{OwnerID: ownerU1, Filename: "x.pdf", Category: "resume", ContentType: "application/pdf", Size: 10<<20 + 1},
			setupMocks: func(*storeMocks.MockStorage, *repoMocks.MockDocumentRepository) {},
			wantErr:    ErrFileTooLarge,
		},
		{
			name:       "validation error - missing owner",
			in:         UploadInput{Filename: "x.pdf", Category: "resume", ContentType: "application/pdf", Size: 1},
			setupMocks: func(*storeMocks.MockStorage, *repoMocks.MockDocumentRepository) {},
			wantErr:    ErrInvalidRequest,
		},
		{
			name: "storage error",
			in:   UploadInput{OwnerID: ownerU1, Filename: "x.pdf", Category: "resume", ContentType: "application/pdf", Size: 5},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{}, errors.New("storage fail"))
			},
			wantErr: ErrStorageUnavailable,
		},
		{
			name: "repository error with successful rollback",
			in:   UploadInput{OwnerID: ownerU1, Filename: "x.pdf", Category: "resume", ContentType: "application/pdf", Size: 5},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				var stored string
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
					Return(func(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
						stored = key
						return storage.ObjectInfo{Key: key}
					}, nil)
				mRepo.On("Create", ctx, mock.Anything).Return(nil, errors.New("db fail"))
				mStore.On("Delete", mock.Anything, mock.MatchedBy(func(key string) bool { return key == stored })).Return(nil)
			},
			wantErrMsg: "save document: db fail",
		},
		{
			name: "repository error with failed rollback",
			in:   UploadInput{OwnerID: ownerU1, Filename: "x.pdf", Category: "resume", ContentType: "application/pdf", Size: 5},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
					Return(func(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
						return storage.ObjectInfo{Key: key}
					}, nil)
				mRepo.On("Create", ctx, mock.Anything).Return(nil, errors.New("db fail"))
				mStore.On("Delete", mock.Anything, mock.Anything).Return(errors.New("delete fail"))
			},
			wantErr: ErrInconsistentState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockDocumentRepository)
			svc := newDocumentService(mStore, mRepo)

			tt.setupMocks(mStore, mRepo)
			tt.in.Body = strings.NewReader("hello world")

			doc, err := svc.Upload(ctx, tt.in)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, doc)
			case tt.wantErrMsg != "":
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
			default:
				assert.NoError(t, err)
				if tt.check != nil {
					tt.check(t, doc)
				}
			}

			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestDocumentService_UploadRejectsBeforeAnyWrite(t *testing.T) {
	mStore := new(storeMocks.MockStorage)
	mRepo := new(repoMocks.MockDocumentRepository)
	svc := newDocumentService(mStore, mRepo)

	_, err := svc.Upload(context.Background(), UploadInput{
		OwnerID: ownerU1, Filename: "bundle.zip", Category: "passport",
		ContentType: "application/zip", Size: 100, Body: strings.NewReader("PK"),
	})

	assert.ErrorIs(t, err, ErrUnsupportedContentType)
	mStore.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDocumentService_List(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		limit      int
		offset     int
		setupMocks func(mRepo *repoMocks.MockDocumentRepository)
		wantErr    bool
		checkRes   func(t *testing.T, res *DocumentListResult)
	}{
		{
			name:   "happy path",
			limit:  10,
			offset: 0,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("ListByOwner", ctx, ownerU1, repository.PageQuery{Limit: 10, Offset: 0}).
					Return(&repository.PageResult[model.Document]{
						Items: []model.Document{doc(idA, ownerU1, "a.pdf"), doc(idB, ownerU1, "b.pdf")},
						Total: 2,
					}, nil)
			},
			checkRes: func(t *testing.T, res *DocumentListResult) {
				assert.Equal(t, 2, len(res.Items))
				assert.Equal(t, 2, res.Total)
			},
		},
		{
			name:   "pagination boundary - zero limit uses default",
			limit:  0,
			offset: -1,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("ListByOwner", ctx, ownerU1, repository.PageQuery{Limit: 10, Offset: 0}).
					Return(&repository.PageResult[model.Document]{Total: 0}, nil)
			},
			checkRes: func(t *testing.T, res *DocumentListResult) {
				assert.NotNil(t, res.Items)
				assert.Equal(t, 10, res.Limit)
			},
		},
		{
			name:  "pagination boundary - limit capped",
			limit: 5000,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("ListByOwner", ctx, ownerU1, repository.PageQuery{Limit: 100, Offset: 0}).
					Return(&repository.PageResult[model.Document]{Items: []model.Document{}}, nil)
			},
		},
		{
			name:  "repository error",
			limit: 10,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("ListByOwner", ctx, ownerU1, mock.Anything).Return(nil, errors.New("db fail"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockDocumentRepository)
			svc := newDocumentService(nil, mRepo)

			tt.setupMocks(mRepo)

			res, err := svc.List(ctx, ownerU1, tt.limit, tt.offset)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				if tt.checkRes != nil {
					tt.checkRes(t, res)
				}
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestDocumentService_Get(t *testing.T) {
	ctx := context.Background()
	owned := doc(idA, ownerU1, "passport.pdf")

	tests := []struct {
		name       string
		caller     model.Identity
		id         string
		setupMocks func(mRepo *repoMocks.MockDocumentRepository)
		wantErr    error
	}{
		{
			name:   "happy path",
			caller: student,
			id:     idA,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(&owned, nil)
			},
		},
		{
			name:   "admin reads any owner",
			caller: admin,
			id:     idA,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(&owned, nil)
			},
		},
		{
			name:   "another student's document looks missing",
			caller: other,
			id:     idA,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(&owned, nil)
			},
			wantErr: ErrNotFound,
		},
		{
			name:       "validation - malformed id",
			caller:     student,
			id:         "valid-id",
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {},
			wantErr:    ErrInvalidRequest,
		},
		{
			name:   "not found - mapping sql.ErrNoRows",
			caller: student,
			id:     idZ,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idZ).Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name:   "generic repository error",
			caller: student,
			id:     idB,
			setupMocks: func(mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idB).Return(nil, errors.New("db fail"))
			},
			wantErr: errors.New("db fail"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockDocumentRepository)
			svc := newDocumentService(nil, mRepo)

			tt.setupMocks(mRepo)

			got, err := svc.Get(ctx, tt.caller, tt.id)

			if tt.wantErr != nil {
				if errors.Is(tt.wantErr, ErrInvalidRequest) || errors.Is(tt.wantErr, ErrNotFound) {
					assert.ErrorIs(t, err, tt.wantErr)
				} else {
					assert.ErrorContains(t, err, tt.wantErr.Error())
				}
				assert.Nil(t, got)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.id, got.ID)
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestDocumentService_Delete(t *testing.T) {
	ctx := context.Background()
	owned := doc(idA, ownerU1, "passport.pdf")

	tests := []struct {
		name       string
		caller     model.Identity
		setupMocks func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository)
		wantErr    error
	}{
		{
			name:   "happy path",
			caller: student,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(&owned, nil)
				mStore.On("Delete", ctx, owned.StorageKey).Return(nil)
				mRepo.On("Delete", mock.Anything, idA).Return(nil)
			},
		},
		{
			name:   "not owned",
			caller: other,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(&owned, nil)
			},
			wantErr: ErrNotFound,
		},
		{
			name:   "not found",
			caller: student,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name:   "storage delete error keeps the record",
			caller: student,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(&owned, nil)
				mStore.On("Delete", ctx, owned.StorageKey).Return(errors.New("storage fail"))
			},
			wantErr: ErrStorageUnavailable,
		},
		{
			name:   "record removed concurrently",
			caller: admin,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(&owned, nil)
				mStore.On("Delete", ctx, owned.StorageKey).Return(nil)
				mRepo.On("Delete", mock.Anything, idA).Return(sql.ErrNoRows)
			},
		},
		{
			name:   "repository delete error is inconsistent",
			caller: student,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockDocumentRepository) {
				mRepo.On("FindByID", ctx, idA).Return(&owned, nil)
				mStore.On("Delete", ctx, owned.StorageKey).Return(nil)
				mRepo.On("Delete", mock.Anything, idA).Return(errors.New("db fail"))
			},
			wantErr: ErrInconsistentState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockDocumentRepository)
			svc := newDocumentService(mStore, mRepo)

			tt.setupMocks(mStore, mRepo)

			err := svc.Delete(ctx, tt.caller, idA)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
		})
	}
}
