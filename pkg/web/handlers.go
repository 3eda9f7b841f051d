// Package web provides HTTP handlers and REST API endpoints for dispatching and controlling executions.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/flowork/flowcore/pkg/dispatch"
	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/registry"
	"github.com/gofiber/fiber/v3"
)

// HealthChecker reports whether the job store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	dispatch *dispatch.Service
	registry *registry.Registry
	store    HealthChecker
}

func NewAPIHandlers(dispatch *dispatch.Service, registry *registry.Registry, store HealthChecker) *APIHandlers {
	return &APIHandlers{
		dispatch: dispatch,
		registry: registry,
		store:    store,
	}
}

// Register mounts every endpoint on router.
func Register(router fiber.Router, h *APIHandlers) {
	e := router.Group("/executions")
	e.Post("/", h.Dispatch)
	e.Post("/standalone", h.ExecuteStandalone)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/stop", h.StopExecution)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)

	router.Get("/nodes", h.GetNodeTypes)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) Dispatch(c fiber.Ctx) error {
	var req dispatch.Request
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	executionID, jobIDs, err := h.dispatch.Dispatch(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(DispatchResponse{
		ExecutionID: executionID,
		JobIDs:      jobIDs,
	})
}

func (h *APIHandlers) ExecuteStandalone(c fiber.Ctx) error {
	var req dispatch.StandaloneRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	executionID, jobID, err := h.dispatch.ExecuteStandalone(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(StandaloneResponse{
		ExecutionID: executionID,
		JobID:       jobID,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	monitor, err := h.dispatch.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(monitor)
}

func (h *APIHandlers) StopExecution(c fiber.Ctx) error {
	return h.control(c, models.ExecutionStatusStopped, h.dispatch.Stop)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	return h.control(c, models.ExecutionStatusPaused, h.dispatch.Pause)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	return h.control(c, models.ExecutionStatusRunning, h.dispatch.Resume)
}

func (h *APIHandlers) control(
	c fiber.Ctx,
	status models.ExecutionStatus,
	apply func(ctx context.Context, executionID string) (int, error),
) error {
	id := c.Params("id")

	jobs, err := apply(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ControlResponse{
		ExecutionID: id,
		Status:      status,
		Jobs:        jobs,
	})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	return c.JSON(TransformNodeTypes(h.registry.GetAvailableNodes()))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck := "Registry has node types"
	regOk := len(h.registry.GetAvailableNodes()) > 0

	if !regOk {
		registryCheck = "Registry has no node types"
	}

	repositoryCheck := "Job store is healthy"
	repOk := true

	if err := h.store.HealthCheck(c.Context()); err != nil {
		repositoryCheck = "Job store is unhealthy: " + err.Error()
		repOk = false
	}

	status := "unhealthy"
	message := "flowcore API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "flowcore API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
