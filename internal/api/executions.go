package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goyais/worker/internal/worktree"
	"github.com/goyais/worker/pkg/protocol"
)

// handleCommit stages and commits an execution's worktree lane on behalf of
// the hub.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	executionID := strings.TrimSpace(r.PathValue("id"))

	var req protocol.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON request body", nil)
		return
	}

	worktreeRoot := strings.TrimSpace(req.WorktreeRoot)
	message := strings.TrimSpace(req.Message)
	if executionID == "" || worktreeRoot == "" || message == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR",
			"execution_id, worktree_root and message are required", map[string]any{
				"execution_id":  executionID,
				"worktree_root": worktreeRoot,
			})
		return
	}

	sha, err := s.worktree.Commit(r.Context(), worktreeRoot, message, strings.TrimSpace(req.GitName), strings.TrimSpace(req.GitEmail))
	if err != nil {
		if errors.Is(err, worktree.ErrNothingToCommit) {
			writeError(w, r, http.StatusConflict, "NOTHING_TO_COMMIT",
				"Working tree is clean, nothing to commit", map[string]any{"worktree_root": worktreeRoot})
			return
		}
		slog.Warn("api.commit_failed", "execution_id", executionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "WORKTREE_COMMIT_FAILED", err.Error(), nil)
		return
	}

	slog.Info("api.commit", "execution_id", executionID, "commit_sha", sha)
	writeJSON(w, http.StatusOK, protocol.CommitResponse{CommitSHA: sha})
}

// handleDiscard removes an execution's worktree lane. Removal is idempotent;
// a lane that is already gone still answers discarded.
func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	executionID := strings.TrimSpace(r.PathValue("id"))

	var req protocol.DiscardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON request body", nil)
		return
	}

	repoRoot := strings.TrimSpace(req.RepoRoot)
	if executionID == "" || repoRoot == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR",
			"execution_id and repo_root are required", nil)
		return
	}

	s.worktree.Remove(r.Context(), repoRoot, executionID)
	writeJSON(w, http.StatusOK, protocol.DiscardResponse{Status: "discarded"})
}
