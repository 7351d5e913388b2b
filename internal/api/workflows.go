// Package api exposes the signing workflow operations over HTTP.
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/oapi-codegen/runtime"

	"signflow/backend/internal/auth"
	"signflow/backend/internal/logging"
	"signflow/backend/internal/services"
	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

// DefaultUploadLimit caps the size of a signed document upload.
const DefaultUploadLimit = "25M"

// Server holds the dependencies for the API server.
type Server struct {
	svc         *services.WorkflowService
	db          Pinger
	logger      *logging.Logger
	uploadLimit string
}

// NewServer creates a new Server. db may be nil, in which case the health
// check does not ping storage.
func NewServer(svc *services.WorkflowService, db Pinger, logger *logging.Logger) *Server {
	return &Server{
		svc:         svc,
		db:          db,
		logger:      logger.With("component", "api"),
		uploadLimit: DefaultUploadLimit,
	}
}

// Register mounts the routes on e. Routes under /api/v1 run behind protect;
// the health check and the token-authenticated signing endpoint are public.
func (s *Server) Register(e *echo.Echo, protect ...echo.MiddlewareFunc) {
	e.HTTPErrorHandler = errorHandler

	e.GET("/health", s.HandleHealth)
	e.POST("/sign/:recipientId", s.SubmitSignature, middleware.BodyLimit(s.uploadLimit))

	g := e.Group("/api/v1", protect...)
	g.POST("/templates", s.CreateTemplate)
	g.GET("/templates/:id", s.GetTemplate)
	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows/:id", s.GetWorkflowProgress)
	g.DELETE("/workflows/:id", s.DeleteWorkflow)
	g.POST("/workflows/:id/start", s.StartWorkflow)
	g.POST("/workflows/:id/cancel", s.CancelWorkflow)
	g.POST("/workflows/:id/remind", s.RemindWorkflow)
	g.PATCH("/workflows/:id/settings", s.UpdateWorkflowSettings)
	g.POST("/recipients/:id/remind", s.RemindRecipient)
	g.POST("/envelopes/:id/resend", s.ResendEnvelope)
}

// CreateTemplate defines a reusable recipient layout
// (POST /api/v1/templates)
func (s *Server) CreateTemplate(c echo.Context) error {
	owner, err := ownerOf(c)
	if err != nil {
		return err
	}
	var req services.CreateTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return respond(c, s.svc.CreateTemplate(c.Request().Context(), owner, req), http.StatusCreated)
}

// GetTemplate returns a template with its recipient slots
// (GET /api/v1/templates/{id})
func (s *Server) GetTemplate(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	return respond(c, s.svc.GetTemplate(c.Request().Context(), id), http.StatusOK)
}

// ListWorkflows returns the caller's workflows, optionally filtered by status
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	owner, err := ownerOf(c)
	if err != nil {
		return err
	}
	var status *string
	if err := runtime.BindQueryParameter("form", true, false, "status", c.QueryParams(), &status); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter status: %s", err))
	}

	res := s.svc.ListWorkflows(c.Request().Context(), owner)
	if res.IsOK() && status != nil {
		want := models.WorkflowStatus(strings.ToLower(*status))
		filtered := make([]*models.Workflow, 0, len(res.Data))
		for _, w := range res.Data {
			if w.Status == want {
				filtered = append(filtered, w)
			}
		}
		res.Data = filtered
	}
	return respond(c, res, http.StatusOK)
}

// CreateWorkflow instantiates a template as a Draft workflow
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	owner, err := ownerOf(c)
	if err != nil {
		return err
	}
	var req services.CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return respond(c, s.svc.CreateWorkflow(c.Request().Context(), owner, req), http.StatusCreated)
}

// GetWorkflowProgress (GET /api/v1/workflows/{id})
func (s *Server) GetWorkflowProgress(c echo.Context) error {
	id, err := s.owned(c, services.ResourceWorkflow)
	if err != nil {
		return err
	}
	return respond(c, s.svc.GetWorkflowProgress(c.Request().Context(), id), http.StatusOK)
}

// DeleteWorkflow (DELETE /api/v1/workflows/{id})
func (s *Server) DeleteWorkflow(c echo.Context) error {
	id, err := s.owned(c, services.ResourceWorkflow)
	if err != nil {
		return err
	}
	return respond(c, s.svc.DeleteWorkflow(c.Request().Context(), id), http.StatusOK)
}

// StartWorkflow (POST /api/v1/workflows/{id}/start)
func (s *Server) StartWorkflow(c echo.Context) error {
	id, err := s.owned(c, services.ResourceWorkflow)
	if err != nil {
		return err
	}
	return respond(c, s.svc.StartWorkflow(c.Request().Context(), id), http.StatusOK)
}

// CancelRequest is the optional body of a cancellation.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelWorkflow (POST /api/v1/workflows/{id}/cancel)
func (s *Server) CancelWorkflow(c echo.Context) error {
	id, err := s.owned(c, services.ResourceWorkflow)
	if err != nil {
		return err
	}
	var req CancelRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
		}
	}
	return respond(c, s.svc.CancelWorkflow(c.Request().Context(), id, req.Reason), http.StatusOK)
}

// RemindWorkflow (POST /api/v1/workflows/{id}/remind)
func (s *Server) RemindWorkflow(c echo.Context) error {
	id, err := s.owned(c, services.ResourceWorkflow)
	if err != nil {
		return err
	}
	return respond(c, s.svc.RemindWorkflow(c.Request().Context(), id), http.StatusOK)
}

// UpdateWorkflowSettings (PATCH /api/v1/workflows/{id}/settings)
func (s *Server) UpdateWorkflowSettings(c echo.Context) error {
	id, err := s.owned(c, services.ResourceWorkflow)
	if err != nil {
		return err
	}
	var req services.UpdateSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return respond(c, s.svc.UpdateWorkflowSettings(c.Request().Context(), id, req), http.StatusOK)
}

// RemindRecipient (POST /api/v1/recipients/{id}/remind)
func (s *Server) RemindRecipient(c echo.Context) error {
	id, err := s.owned(c, services.ResourceRecipient)
	if err != nil {
		return err
	}
	return respond(c, s.svc.RemindRecipient(c.Request().Context(), id), http.StatusOK)
}

// ResendEnvelope (POST /api/v1/envelopes/{id}/resend)
func (s *Server) ResendEnvelope(c echo.Context) error {
	id, err := s.owned(c, services.ResourceEnvelope)
	if err != nil {
		return err
	}
	return respond(c, s.svc.ResendEnvelope(c.Request().Context(), id), http.StatusOK)
}

// SubmitSignature accepts a recipient's signed document as multipart form
// data with fields "token" and "file". The token may also be passed as a
// query parameter, matching the emailed signing link.
// (POST /sign/{recipientId})
func (s *Server) SubmitSignature(c echo.Context) error {
	recipientID, err := pathParam(c, "recipientId")
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return writeError(c, http.StatusBadRequest, result.KindValidation, "signed file is required")
	}
	f, err := fh.Open()
	if err != nil {
		s.logger.Error("open upload", "recipient_id", recipientID, "error", err)
		return writeError(c, http.StatusBadRequest, result.KindValidation, "signed file could not be read")
	}
	defer f.Close()

	res := s.svc.CompleteDocumentSigning(c.Request().Context(), services.SignRequest{
		RecipientID: recipientID,
		Token:       c.FormValue("token"),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Content:     f,
	})
	return respond(c, res, http.StatusCreated)
}

func pathParam(c echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, c.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

// owned returns the id path parameter once the caller is known to own the
// workflow it addresses. Workflows of other owners are reported as not found.
func (s *Server) owned(c echo.Context, kind services.Resource) (string, error) {
	id, err := pathParam(c, "id")
	if err != nil {
		return "", err
	}
	owner, err := ownerOf(c)
	if err != nil {
		return "", err
	}
	if res := s.svc.Authorize(c.Request().Context(), owner, kind, id); !res.IsOK() {
		return "", echo.NewHTTPError(statusFor(res.Kind), res.Message)
	}
	return id, nil
}

func ownerOf(c echo.Context) (string, error) {
	owner, ok := auth.OwnerFromContext(c.Request().Context())
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "owner not found in context")
	}
	return owner, nil
}
