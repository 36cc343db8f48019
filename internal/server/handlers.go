package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	ragerr "localrag/internal/errors"
	"localrag/internal/ollama"
	"localrag/internal/store"
	"localrag/pkg/version"
)

type healthResponse struct {
	Status      string `json:"status"`
	Upstream    bool   `json:"upstream"`
	UpstreamURL string `json:"upstreamUrl"`
	Collections int    `json:"collections"`
	Version     string `json:"version,omitempty"`
}

// handleHealth reports upstream reachability and local state, cached 15 s.
func (s *Server) handleHealth(c echo.Context) error {
	resp, err := s.healthCache.Get(func() (healthResponse, error) {
		h := healthResponse{
			UpstreamURL: s.client.BaseURL(),
			Collections: len(s.manager.Infos()),
			Version:     version.Short(),
		}
		if err := s.client.Heartbeat(c.Request().Context()); err != nil {
			h.Status = "degraded"
			s.logger.Debug("upstream heartbeat failed", "error", err)
		} else {
			h.Status = "ok"
			h.Upstream = true
		}
		return h, nil
	})
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

type modelStatus struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Installed   bool   `json:"installed"`
	PullCommand string `json:"pullCommand,omitempty"`
}

type modelsResponse struct {
	Ready     bool          `json:"ready"`
	Required  []modelStatus `json:"required"`
	Installed []string      `json:"installed"`
}

// handleModels lists upstream models and checks the two the service needs.
func (s *Server) handleModels(c echo.Context) error {
	models, err := s.client.ListModels(c.Request().Context())
	if err != nil {
		return problem(c, err)
	}

	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}

	resp := modelsResponse{Ready: true, Installed: names}
	for _, req := range []struct{ name, role string }{
		{s.cfg.EmbeddingModel, "embed"},
		{s.cfg.ChatModel, "chat"},
	} {
		st := modelStatus{Name: req.name, Role: req.role, Installed: ollama.HasModel(models, req.name)}
		if !st.Installed {
			st.PullCommand = "ollama pull " + req.name
			resp.Ready = false
		}
		resp.Required = append(resp.Required, st)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleBrowse opens the OS folder picker and returns the chosen path.
func (s *Server) handleBrowse(c echo.Context) error {
	path, err := browseFolder(c.Request().Context())
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"path": path})
}

type enqueueRequest struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
}

// handleEnqueue validates and queues an ingestion job.
func (s *Server) handleEnqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, ragerr.ValidationError("invalid request body"))
	}
	if err := store.ValidateCollectionName(req.Collection); err != nil {
		return problem(c, err)
	}
	if err := validateIngestPath(req.Path); err != nil {
		return problem(c, err)
	}

	job, err := s.queue.Enqueue(req.Path, req.Collection)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, job)
}

func (s *Server) handleQueueList(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.Jobs())
}

// handleQueueStream sends the job list as SSE: a snapshot first, then one
// event per queue change until the client disconnects.
func (s *Server) handleQueueStream(c echo.Context) error {
	updates, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()

	sseHeaders(c)
	if err := sseWrite(c, s.queue.Jobs()); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case jobs := <-updates:
			if err := sseWrite(c, jobs); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) handleQueueCancel(c echo.Context) error {
	if err := s.queue.Cancel(c.Param("id")); err != nil {
		return problem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleQueuePurge drops terminal jobs from the queue.
func (s *Server) handleQueuePurge(c echo.Context) error {
	removed, err := s.queue.Purge()
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

type metricsResponse struct {
	Collections []store.Info `json:"collections"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// handleMetrics reports per-collection store metrics, cached 5 s.
func (s *Server) handleMetrics(c echo.Context) error {
	resp, err := s.metricsCache.Get(func() (metricsResponse, error) {
		return metricsResponse{
			Collections: s.manager.Infos(),
			GeneratedAt: time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleClientLog appends a UI-originated log entry to the server log.
func (s *Server) handleClientLog(c echo.Context) error {
	var entry map[string]any
	if err := c.Bind(&entry); err != nil {
		return problem(c, ragerr.ValidationError("invalid request body"))
	}
	data, _ := json.Marshal(entry)
	s.logger.Info("client log", "entry", string(data))
	return c.NoContent(http.StatusNoContent)
}

// sseHeaders switches the response into event-stream mode.
func sseHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
}

// sseWrite marshals v as one SSE data event and flushes it.
func sseWrite(c echo.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
