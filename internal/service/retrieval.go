package service

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"studentdocs/internal/archive"
	"studentdocs/internal/config"
	"studentdocs/internal/model"
	"studentdocs/internal/repository"
	"studentdocs/internal/storage"
)

// Mode is the caller's hint for the response shape.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeArchive Mode = "archive"
)

// ParseMode accepts "", "auto" and "archive" in any case. The empty string means auto.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, true
	case ModeArchive:
		return ModeArchive, true
	}
	return "", false
}

// Shape is the discriminant of a retrieval result.
type Shape string

const (
	ShapeNone    Shape = "none"
	ShapeSingle  Shape = "single"
	ShapeArchive Shape = "archive"
)

// ChooseResponseShape picks the result shape from the number of resolved documents.
func ChooseResponseShape(count int, mode Mode) Shape {
	switch {
	case count <= 0:
		return ShapeNone
	case count == 1 && mode != ModeArchive:
		return ShapeSingle
	default:
		return ShapeArchive
	}
}

// SkipReasonNotFound covers both missing documents and documents owned by someone else.
const SkipReasonNotFound = "not_found"

const archiveContentType = "application/zip"

type RetrieveRequest struct {
	DocumentIDs []string
	OwnerID     string
	Mode        Mode
}

// SkippedItem is a requested id that is absent from the result.
type SkippedItem struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ArchiveEntry maps a document to its file name inside the archive.
type ArchiveEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RetrieveResult is the tagged result of a retrieval. URL is always a signed,
// time-limited pointer; Entries is set only for archives.
type RetrieveResult struct {
	Kind      Shape          `json:"kind"`
	URL       string         `json:"url"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Entries   []ArchiveEntry `json:"entries,omitempty"`
	Skipped   []SkippedItem  `json:"skipped"`
}

// RetrievalService resolves a set of document ids for one owner into a single signed
// pointer or a signed pointer to a freshly built archive.
type RetrievalService interface {
	Resolve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error)
}

type retrievalService struct {
	store   storage.Storage
	repo    repository.DocumentRepository
	cfg     config.RetrievalConfig
	log     zerolog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewRetrievalService constructs the retrieval gateway. metrics may be nil.
func NewRetrievalService(store storage.Storage, repo repository.DocumentRepository, cfg config.RetrievalConfig, log zerolog.Logger, metrics *Metrics) RetrievalService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &retrievalService{
		store:   store,
		repo:    repo,
		cfg:     cfg,
		log:     log.With().Str("component", "retrieval").Logger(),
		metrics: metrics,
		tracer:  otel.Tracer("studentdocs/retrieval"),
		now:     time.Now,
	}
}

func (s *retrievalService) Resolve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.Resolve", trace.WithAttributes(
		attribute.Int("documents.requested", len(req.DocumentIDs)),
		attribute.String("retrieval.mode", string(req.Mode)),
	))
	defer span.End()

	res, err := s.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		s.metrics.outcome(outcomeOf(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("retrieval.kind", string(res.Kind)),
		attribute.Int("documents.skipped", len(res.Skipped)),
	)
	s.metrics.outcome(string(res.Kind))
	s.metrics.skip(SkipReasonNotFound, len(res.Skipped))
	return res, nil
}

func (s *retrievalService) resolve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	ids, mode, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	rows, err := s.repo.FindByIDs(lookupCtx, ids)
	cancel()
	if err != nil {
		return nil, unavailable("ownership lookup", err)
	}

	byID := make(map[string]model.Document, len(rows))
	for _, d := range rows {
		byID[strings.ToLower(d.ID)] = d
	}

	var (
		working  []model.Document
		skipped  = make([]SkippedItem, 0)
		notOwned int
	)
	for _, id := range ids {
		d, ok := byID[id]
		switch {
		case !ok:
			skipped = append(skipped, SkippedItem{ID: id, Reason: SkipReasonNotFound})
		case d.OwnerID != req.OwnerID:
			notOwned++
			skipped = append(skipped, SkippedItem{ID: id, Reason: SkipReasonNotFound})
		default:
			working = append(working, d)
		}
	}

	if len(working) == 0 {
		if notOwned == len(ids) {
			return nil, ErrForbidden
		}
		return nil, ErrNotFound
	}

	switch ChooseResponseShape(len(working), mode) {
	case ShapeSingle:
		return s.single(ctx, working[0], skipped)
	default:
		return s.archive(ctx, working, skipped)
	}
}

// validate returns the canonical, de-duplicated ids in request order.
func (s *retrievalService) validate(req RetrieveRequest) ([]string, Mode, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, "", invalid("owner is required")
	}
	mode, ok := ParseMode(string(req.Mode))
	if !ok {
		return nil, "", invalid("unknown mode %q", req.Mode)
	}
	if len(req.DocumentIDs) == 0 {
		return nil, "", invalid("documentIds must not be empty")
	}

	seen := make(map[string]struct{}, len(req.DocumentIDs))
	ids := make([]string, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, "", invalid("malformed document id %q", raw)
		}
		key := id.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, key)
	}
	if s.cfg.MaxDocuments > 0 && len(ids) > s.cfg.MaxDocuments {
		return nil, "", invalid("at most %d documents per request", s.cfg.MaxDocuments)
	}
	return ids, mode, nil
}

func (s *retrievalService) single(ctx context.Context, doc model.Document, skipped []SkippedItem) (*RetrieveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer cancel()

	if _, err := s.store.Stat(ctx, doc.StorageKey); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.reportInconsistent(doc)
			return nil, ErrNotFound
		}
		return nil, unavailable("stat object", err)
	}

	issued := s.now()
	url, err := s.store.PresignGet(ctx, doc.StorageKey, s.cfg.URLTTL)
	if err != nil {
		return nil, unavailable("sign url", err)
	}

	return &RetrieveResult{
		Kind:      ShapeSingle,
		URL:       url,
		ExpiresAt: issued.Add(s.cfg.URLTTL).UTC(),
		Skipped:   sortSkipped(skipped),
	}, nil
}

type openedDocument struct {
	doc  model.Document
	body io.ReadCloser
}

func (s *retrievalService) archive(ctx context.Context, docs []model.Document, skipped []SkippedItem) (*RetrieveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ArchiveTimeout)
	defer cancel()

	opened, missing, err := s.openAll(ctx, docs)
	defer func() {
		for _, o := range opened {
			o.body.Close()
		}
	}()
	if err != nil {
		return nil, unavailable("open objects", err)
	}
	for _, d := range missing {
		s.reportInconsistent(d)
		skipped = append(skipped, SkippedItem{ID: d.ID, Reason: SkipReasonNotFound})
	}
	if len(opened) == 0 {
		return nil, ErrNotFound
	}

	// Entry order depends only on the resolved set, never on request order or scheduling.
	sort.Slice(opened, func(i, j int) bool {
		a, b := opened[i].doc, opened[j].doc
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.ID < b.ID
	})
	names := make([]string, len(opened))
	for i, o := range opened {
		names[i] = o.doc.DisplayName
	}
	names = archive.EntryNames(names)

	entries := make([]archive.Entry, len(opened))
	listed := make([]ArchiveEntry, len(opened))
	for i, o := range opened {
		entries[i] = archive.Entry{Name: names[i], Modified: o.doc.CreatedAt, Body: o.body}
		listed[i] = ArchiveEntry{ID: o.doc.ID, Name: names[i]}
	}

	issued := s.now()
	key := s.cfg.BundlePrefix + ulid.MustNew(ulid.Timestamp(issued), crand.Reader).String() + ".zip"
	if err := s.storeBundle(ctx, key, entries); err != nil {
		return nil, unavailable("store archive", err)
	}

	signCtx, signCancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer signCancel()
	url, err := s.store.PresignGet(signCtx, key, s.cfg.URLTTL)
	if err != nil {
		s.discardBundle(ctx, key)
		return nil, unavailable("sign archive url", err)
	}

	s.log.Info().
		Str("bundle", key).
		Int("entries", len(entries)).
		Int("skipped", len(skipped)).
		Msg("archive built")

	return &RetrieveResult{
		Kind:      ShapeArchive,
		URL:       url,
		ExpiresAt: issued.Add(s.cfg.URLTTL).UTC(),
		Entries:   listed,
		Skipped:   sortSkipped(skipped),
	}, nil
}

// openAll opens every object concurrently. Missing objects are returned separately; any
// other failure aborts. Readers opened before a failure are still returned for closing.
func (s *retrievalService) openAll(ctx context.Context, docs []model.Document) ([]openedDocument, []model.Document, error) {
	bodies := make([]io.ReadCloser, len(docs))
	absent := make([]bool, len(docs))

	// A plain Group: readers stay bound to ctx after Wait returns.
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, d := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rc, _, err := s.store.Get(ctx, d.StorageKey)
			if errors.Is(err, storage.ErrObjectNotFound) {
				absent[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("open %s: %w", d.ID, err)
			}
			bodies[i] = rc
			return nil
		})
	}
	err := g.Wait()

	var (
		opened  []openedDocument
		missing []model.Document
	)
	for i, d := range docs {
		switch {
		case bodies[i] != nil:
			opened = append(opened, openedDocument{doc: d, body: bodies[i]})
		case absent[i]:
			missing = append(missing, d)
		}
	}
	return opened, missing, err
}

// storeBundle streams the zip straight into object storage; nothing is buffered whole.
func (s *retrievalService) storeBundle(ctx context.Context, key string, entries []archive.Entry) error {
	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		_, err := archive.Write(ctx, pw, entries)
		pw.CloseWithError(err)
		written <- err
	}()

	_, putErr := s.store.Put(ctx, key, pr, storage.PutObjectOptions{
		Size:        -1,
		ContentType: archiveContentType,
	})
	// Unblocks the writer if the upload gave up early.
	pr.CloseWithError(io.ErrClosedPipe)
	writeErr := <-written

	if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
		return fmt.Errorf("build archive: %w", writeErr)
	}
	return putErr
}

func (s *retrievalService) discardBundle(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BackendTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("bundle", key).Msg("discard unsigned archive")
	}
}

func (s *retrievalService) reportInconsistent(doc model.Document) {
	s.metrics.inconsistentRecord()
	s.log.Error().
		Str("document_id", doc.ID).
		Str("owner_id", doc.OwnerID).
		Bool("operator_attention", true).
		Msg("document record has no stored object")
}

func sortSkipped(items []SkippedItem) []SkippedItem {
	if items == nil {
		return []SkippedItem{}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// unavailable folds every backend failure, including timeouts, into ErrStorageUnavailable
// while keeping the cause for logging.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
