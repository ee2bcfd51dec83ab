package handler

import (
	"context"
	"database/sql"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studentdocs/docs"
	"studentdocs/internal/config"
	"studentdocs/internal/database"
	"studentdocs/internal/http/middleware"
	"studentdocs/internal/model"
	"studentdocs/internal/service"
)

const healthTimeout = 2 * time.Second

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	DB        *sql.DB
	Documents service.DocumentService
	Retrieval service.RetrievalService
	Auth      config.AuthConfig
	RateLimit config.RateLimitConfig
	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler
	Log     zerolog.Logger
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Every /documents route requires a bearer identity; the rest are public.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/health", HealthCheck(d.DB))
	app.Get("/healthz", LivenessProbe())
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics))
	}
	app.Get("/swagger/*", Swagger())

	validate := newValidator()
	docsGroup := app.Group("/documents", middleware.Identity(d.Auth.JWTSecret))
	docsGroup.Post("/retrieve", middleware.RateLimit(d.RateLimit), RetrieveDocuments(d.Retrieval, validate, d.Log))
	docsGroup.Get("", ListDocuments(d.Documents, d.Log))
	docsGroup.Post("", UploadDocument(d.Documents, d.Log))
	docsGroup.Get("/:id", GetDocument(d.Documents, d.Log))
	docsGroup.Delete("/:id", DeleteDocument(d.Documents, d.Log))
}

// HealthCheck checks DB connectivity only.
//
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()
		if err := database.Ping(ctx, db); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, KindStorageUnavailable, "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is the simple liveness endpoint.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// Swagger serves the UI with the host and scheme of the incoming request.
func Swagger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	}
}

type retrieveRequest struct {
	DocumentIDs []string `json:"documentIds" validate:"required,min=1,dive,required"`
	OwnerID     string   `json:"ownerId" validate:"omitempty,max=128"`
	Mode        string   `json:"mode" validate:"omitempty,oneof=auto archive"`
}

// RetrieveDocuments resolves documents to one signed link or a signed archive link.
//
// @Summary Resolve documents to a signed link or a signed archive link
// @Tags retrieval
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body retrieveRequest true "Documents to retrieve"
// @Success 200 {object} service.RetrieveResult
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Failure 503 {object} errorPayload
// @Router /documents/retrieve [post]
func RetrieveDocuments(svc service.RetrievalService, validate *validator.Validate, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := middleware.IdentityFrom(c)
		if !ok {
			return writeError(c, fiber.StatusUnauthorized, KindUnauthorized, "authentication required")
		}

		var req retrieveRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, "malformed request body")
		}
		if err := validate.Struct(req); err != nil {
			return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, validationMessage(err))
		}

		owner, ok := ownerFor(caller, req.OwnerID)
		if !ok {
			return writeError(c, fiber.StatusNotFound, KindNotFound, "document not found")
		}

		res, err := svc.Resolve(c.UserContext(), service.RetrieveRequest{
			DocumentIDs: req.DocumentIDs,
			OwnerID:     owner,
			Mode:        service.Mode(req.Mode),
		})
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.JSON(res)
	}
}

// ListDocuments lists the caller's documents with limit & offset.
// Admins may pass ownerId to list another student's documents.
func ListDocuments(svc service.DocumentService, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := middleware.IdentityFrom(c)
		if !ok {
			return writeError(c, fiber.StatusUnauthorized, KindUnauthorized, "authentication required")
		}

		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, "invalid offset")
		}
		owner, ok := ownerFor(caller, c.Query("ownerId"))
		if !ok {
			return writeError(c, fiber.StatusNotFound, KindNotFound, "owner not found")
		}

		res, err := svc.List(c.UserContext(), owner, limit, offset)
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.JSON(res)
	}
}

// UploadDocument accepts multipart/form-data with fields "file" and "category".
// The uploader always owns the new document.
func UploadDocument(svc service.DocumentService, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := middleware.IdentityFrom(c)
		if !ok {
			return writeError(c, fiber.StatusUnauthorized, KindUnauthorized, "authentication required")
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get(fiber.HeaderContentType)
		if ct == "" {
			ct = fiber.MIMEOctetStream
		}

		doc, err := svc.Upload(c.UserContext(), service.UploadInput{
			OwnerID:     caller.UserID,
			Filename:    fh.Filename,
			Category:    c.FormValue("category"),
			ContentType: ct,
			Size:        fh.Size,
			Body:        f,
		})
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(doc)
	}
}

// GetDocument returns one document's metadata.
func GetDocument(svc service.DocumentService, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := middleware.IdentityFrom(c)
		if !ok {
			return writeError(c, fiber.StatusUnauthorized, KindUnauthorized, "authentication required")
		}
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, "invalid id format")
		}

		doc, err := svc.Get(c.UserContext(), caller, id)
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.JSON(doc)
	}
}

// DeleteDocument removes the stored content and the record.
func DeleteDocument(svc service.DocumentService, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := middleware.IdentityFrom(c)
		if !ok {
			return writeError(c, fiber.StatusUnauthorized, KindUnauthorized, "authentication required")
		}
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, "invalid id format")
		}

		if err := svc.Delete(c.UserContext(), caller, id); err != nil {
			return writeServiceError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ownerFor resolves whose documents a request targets. Callers act on their own documents;
// only admins may name another owner. A refused owner is reported as not found.
func ownerFor(caller model.Identity, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == caller.UserID {
		return caller.UserID, true
	}
	if caller.IsAdmin() {
		return requested, true
	}
	return "", false
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "min":
		return fe.Field() + " must not be empty"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
