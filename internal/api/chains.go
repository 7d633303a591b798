package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ingestor-io/ingestor/internal/engine"
)

type (
	// chainRequest is the POST body defining a chain.
	chainRequest struct {
		Name  string `json:"name"`
		Steps []struct {
			ID     string            `json:"id"`
			Source string            `json:"source"`
			Config map[string]string `json:"config"`
		} `json:"steps"`
		Dependencies []struct {
			Upstream   string `json:"upstream"`
			Downstream string `json:"downstream"`
			Condition  string `json:"condition"`
		} `json:"dependencies"`
	}

	chainResponse struct {
		ChainID string `json:"chain_id"`
		Name    string `json:"name"`
		Steps   int    `json:"steps"`
	}
)

// handleDefineChain validates and persists a chain definition. Cyclic graphs
// and edges referencing unknown steps are rejected with 400.
func (s *Server) handleDefineChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest

	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be valid JSON"))

		return
	}

	if len(req.Steps) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("A chain needs at least one step"))

		return
	}

	chain := &engine.Chain{Name: req.Name}

	for _, step := range req.Steps {
		chain.Steps = append(chain.Steps, engine.ChainStep{
			ID:     step.ID,
			Source: step.Source,
			Config: step.Config,
		})
	}

	for _, dep := range req.Dependencies {
		chain.Dependencies = append(chain.Dependencies, engine.Dependency{
			Upstream:   dep.Upstream,
			Downstream: dep.Downstream,
			Condition:  engine.Condition(dep.Condition),
		})
	}

	if err := s.deps.Chains.Define(r.Context(), chain); err != nil {
		switch {
		case errors.Is(err, engine.ErrChainCyclic),
			errors.Is(err, engine.ErrUnknownChainStep),
			errors.Is(err, engine.ErrInvalidCondition):
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))
		default:
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create chain"))
		}

		return
	}

	s.writeJSON(w, r, http.StatusCreated, chainResponse{
		ChainID: chain.ID,
		Name:    chain.Name,
		Steps:   len(chain.Steps),
	})
}

// handleExecuteChain starts a chain execution: root steps begin immediately,
// the rest wait BLOCKED on their dependencies.
func (s *Server) handleExecuteChain(w http.ResponseWriter, r *http.Request) {
	chainID := r.PathValue("id")

	if err := s.deps.Chains.Execute(r.Context(), chainID); err != nil {
		if errors.Is(err, engine.ErrChainNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("Chain %q not found", chainID)))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to execute chain"))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, map[string]string{
		"chain_id": chainID,
		"status":   "started",
	})
}
