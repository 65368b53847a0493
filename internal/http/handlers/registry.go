package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/http/response"
	"github.com/yungbote/schema-registry/internal/platform/ctxutil"
	"github.com/yungbote/schema-registry/internal/platform/logger"
	"github.com/yungbote/schema-registry/internal/registry/publisher"
)

// RegistryService is the publication pipeline as the transport sees it.
type RegistryService interface {
	Publish(ctx context.Context, in publisher.PublishInput) (publisher.PublishResult, error)
	Check(ctx context.Context, in publisher.CheckInput) (publisher.CheckResult, error)
	Delete(ctx context.Context, in publisher.DeleteInput) (publisher.DeleteResult, error)
	ApproveFailedSchemaCheck(ctx context.Context, in publisher.ApproveInput) (registry.ApproveCheckResult, error)
	GetVersion(ctx context.Context, ref registry.TargetRef, versionID string) (*registry.VersionDetails, error)
}

type RegistryHandler struct {
	log      *logger.Logger
	registry RegistryService
}

func NewRegistryHandler(log *logger.Logger, svc RegistryService) *RegistryHandler {
	return &RegistryHandler{log: log.With("handler", "RegistryHandler"), registry: svc}
}

type githubReq struct {
	Repository string `json:"repository"`
	Commit     string `json:"commit"`
}

func (g *githubReq) toInput() *publisher.GitHub {
	if g == nil {
		return nil
	}
	return &publisher.GitHub{Repository: g.Repository, Commit: g.Commit}
}

type publishReq struct {
	Service       registry.ServiceSchema `json:"service"`
	Author        string                 `json:"author"`
	Commit        string                 `json:"commit"`
	Force         bool                   `json:"accept_breaking_changes"`
	ContextID     string                 `json:"context_id"`
	GitHub        *githubReq             `json:"github"`
	SupportsRetry bool                   `json:"supports_retry"`
}

type checkReq struct {
	Service   registry.ServiceSchema `json:"service"`
	ContextID string                 `json:"context_id"`
	GitHub    *githubReq             `json:"github"`
}

type deleteReq struct {
	ServiceName   string `json:"service_name"`
	SupportsRetry bool   `json:"supports_retry"`
}

type approveReq struct {
	Comment string `json:"comment"`
}

func targetRef(c *gin.Context) registry.TargetRef {
	return registry.TargetRef{TargetID: strings.TrimSpace(c.Param("target_id"))}
}

func actorFrom(c *gin.Context) publisher.Actor {
	a, ok := ctxutil.GetActor(c.Request.Context())
	if !ok {
		return publisher.Actor{}
	}
	return publisher.Actor{ID: a.UserID, SessionID: a.SessionID}
}

// POST /api/targets/:target_id/schemas/publish
func (h *RegistryHandler) Publish(c *gin.Context) {
	var req publishReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.registry.Publish(c.Request.Context(), publisher.PublishInput{
		Target:        targetRef(c),
		Service:       req.Service,
		Author:        req.Author,
		Commit:        req.Commit,
		Force:         req.Force,
		ContextID:     req.ContextID,
		GitHub:        req.GitHub.toInput(),
		SupportsRetry: req.SupportsRetry,
		Actor:         actorFrom(c),
	})
	if err != nil {
		response.RespondRegistryError(c, err)
		return
	}
	if res.Status == publisher.StatusRetryRequested {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusAccepted, gin.H{"result": res})
		return
	}
	response.RespondOK(c, gin.H{"result": res})
}

// POST /api/targets/:target_id/schemas/check
func (h *RegistryHandler) Check(c *gin.Context) {
	var req checkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.registry.Check(c.Request.Context(), publisher.CheckInput{
		Target:    targetRef(c),
		Service:   req.Service,
		ContextID: req.ContextID,
		GitHub:    req.GitHub.toInput(),
		Actor:     actorFrom(c),
	})
	if err != nil {
		response.RespondRegistryError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"result": res})
}

// POST /api/targets/:target_id/schemas/delete
func (h *RegistryHandler) Delete(c *gin.Context) {
	var req deleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.registry.Delete(c.Request.Context(), publisher.DeleteInput{
		Target:        targetRef(c),
		ServiceName:   req.ServiceName,
		SupportsRetry: req.SupportsRetry,
		Actor:         actorFrom(c),
	})
	if err != nil {
		response.RespondRegistryError(c, err)
		return
	}
	if res.Status == publisher.StatusRetryRequested {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusAccepted, gin.H{"result": res})
		return
	}
	response.RespondOK(c, gin.H{"result": res})
}

// POST /api/targets/:target_id/checks/:check_id/approve
func (h *RegistryHandler) ApproveCheck(c *gin.Context) {
	var req approveReq
	// Body is optional, but one that is sent must parse.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.registry.ApproveFailedSchemaCheck(c.Request.Context(), publisher.ApproveInput{
		Target:  targetRef(c),
		CheckID: c.Param("check_id"),
		Comment: req.Comment,
		Actor:   actorFrom(c),
	})
	if err != nil {
		response.RespondRegistryError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"check": res.Check, "contracts": res.Contracts})
}

// GET /api/targets/:target_id/versions/:version_id
func (h *RegistryHandler) GetVersion(c *gin.Context) {
	details, err := h.registry.GetVersion(c.Request.Context(), targetRef(c), c.Param("version_id"))
	if err != nil {
		response.RespondRegistryError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"version":   details.Version,
		"baseline":  details.Baseline,
		"contracts": details.Contracts,
	})
}
