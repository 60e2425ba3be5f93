package main

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/swarmflow/swarmflow/allocator"
	"github.com/swarmflow/swarmflow/execctx"
	"github.com/swarmflow/swarmflow/executor"
	"github.com/swarmflow/swarmflow/resilience"
	"github.com/swarmflow/swarmflow/types"
)

// Server exposes the orchestrator over HTTP: run and step allocation,
// run-context reads/writes, step execution, and the learned error
// patterns.
type Server struct {
	manager   *allocator.Manager
	exec      *executor.Executor
	publisher *resilience.Publisher
	logger    *zap.Logger
}

// NewServer wires the API surface.
func NewServer(manager *allocator.Manager, exec *executor.Executor, publisher *resilience.Publisher, logger *zap.Logger) *Server {
	return &Server{
		manager:   manager,
		exec:      exec,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "api")),
	}
}

// Routes registers the API handlers on a mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/swarms/{swarmID}/runs", s.handleAllocateRun)
	mux.HandleFunc("DELETE /v1/swarms/{swarmID}/runs/{runID}", s.handleReleaseRun)
	mux.HandleFunc("GET /v1/runs/{runID}/context", s.handleGetContext)
	mux.HandleFunc("PUT /v1/runs/{runID}/context", s.handlePutContext)
	mux.HandleFunc("POST /v1/runs/{runID}/steps", s.handleAllocateStep)
	mux.HandleFunc("DELETE /v1/runs/{runID}/steps/{stepID}", s.handleReleaseStep)
	mux.HandleFunc("POST /v1/runs/{runID}/steps/{stepID}/execute", s.handleExecuteStep)
	mux.HandleFunc("GET /v1/patterns", s.handlePatterns)
}

func (s *Server) handleAllocateRun(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarmID")
	var req allocator.RunAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	alloc, err := s.manager.AllocateFromSwarm(r.Context(), swarmID, req)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.manager.EmitRunStarted(r.Context(), swarmID, alloc.RunID)
	writeJSON(w, http.StatusCreated, alloc)
}

func (s *Server) handleReleaseRun(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarmID")
	runID := r.PathValue("runID")

	var usage types.ResourceUsage
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&usage); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.manager.ReleaseToSwarm(r.Context(), swarmID, runID, usage); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.manager.EmitRunCompleted(r.Context(), runID, usage)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	rc, err := s.manager.GetRunContext(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (s *Server) handlePutContext(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	var rc execctx.RunContext
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.UpdateRunContext(r.Context(), runID, &rc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAllocateStep(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	var req allocator.StepAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	step, err := s.manager.AllocateForStep(r.Context(), runID, req)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

func (s *Server) handleReleaseStep(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	stepID := r.PathValue("stepID")

	var usage types.ResourceUsage
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&usage); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.manager.ReleaseFromStep(r.Context(), runID, stepID, usage); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	stepID := r.PathValue("stepID")

	var body struct {
		Input   executor.StepInput `json:"input"`
		Context map[string]any     `json:"context"`
		Options executor.Options   `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body.Input.StepID = stepID

	ctx := types.WithRunID(r.Context(), runID)
	started := time.Now()
	result := s.exec.Execute(ctx, executor.Request{
		Input:   body.Input,
		Context: body.Context,
		Options: body.Options,
	})

	if !result.Success && result.Err != nil {
		requestID, _ := types.RequestID(ctx)
		s.publisher.PublishErrorDetected(ctx, types.ErrorContext{
			RequestID: requestID,
			RunID:     runID,
			StepID:    stepID,
			Component: "executor",
			Operation: "execute_step",
			Message:   result.Err.Message,
		}, types.ErrorClassification{
			Severity: types.SeverityMedium,
			Category: "step_execution",
			Tier:     result.Err.Tier,
		})
	}

	s.logger.Debug("step executed",
		zap.String("run_id", runID),
		zap.String("step_id", stepID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", time.Since(started)))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.publisher.Patterns())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
