package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/controller"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

const maxBodyBytes = 1 << 20

// AssignRequest is the body of POST /nodes/assign-provider
type AssignRequest struct {
	JobID   types.JobID `json:"job_id"`
	Address string      `json:"address"`
}

// AssignResponse is returned by a committed assignment
type AssignResponse struct {
	Success bool       `json:"success"`
	Job     types.Job  `json:"job"`
	Node    types.Node `json:"node"`
}

// ResultRequest is the body of POST /nodes/{id}/result
type ResultRequest struct {
	NodeID     types.NodeID `json:"node_id"`
	ResultHash string       `json:"result_hash"`
	Logs       string       `json:"logs,omitempty"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.ListJobs())
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var job types.Job
	if err := decodeJSON(r, &job); err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.ctrl.SubmitJob(job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.ListNodes())
}

func (s *Server) registerNode(w http.ResponseWriter, r *http.Request) {
	var node types.Node
	if err := decodeJSON(r, &node); err != nil {
		writeError(w, err)
		return
	}
	registered, err := s.ctrl.RegisterNode(node)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registered)
}

func (s *Server) nodeJobs(w http.ResponseWriter, r *http.Request) {
	id := types.NodeID(mux.Vars(r)["id"])
	jobs, err := s.ctrl.NodeJobs(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) assignProvider(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.JobID == "" {
		writeError(w, fmt.Errorf("%w: job_id is required", controller.ErrInvalidRequest))
		return
	}

	out, err := s.ctrl.AssignProvider(r.Context(), req.JobID, req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AssignResponse{Success: true, Job: out.Job, Node: out.Node})
}

func (s *Server) submitResult(w http.ResponseWriter, r *http.Request) {
	jobID := types.JobID(mux.Vars(r)["id"])

	var req ResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Logs != "" {
		s.logger.Debug("result logs",
			zap.String("job_id", string(jobID)),
			zap.String("node_id", string(req.NodeID)),
			zap.String("logs", req.Logs))
	}

	job, err := s.ctrl.SubmitResult(r.Context(), jobID, req.NodeID, req.ResultHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listSettlements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Settlements())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"counts": s.ctrl.Status(),
	})
}

// decodeJSON reads one JSON value; any failure is a validation error
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", controller.ErrInvalidRequest, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes", controller.ErrInvalidRequest, maxBodyBytes)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", controller.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
