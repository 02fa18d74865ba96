package server

import (
	"errors"
	"net/http"

	"github.com/ChuLiYu/ledger-scheduler/internal/controller"
	"github.com/ChuLiYu/ledger-scheduler/internal/store"
)

// Error codes carried in the error envelope
const (
	codeInvalidRequest   = "INVALID_REQUEST"
	codeInvalidAddress   = "INVALID_ADDRESS"
	codeNotFound         = "NOT_FOUND"
	codeJobNotPending    = "JOB_NOT_PENDING"
	codeConflict         = "CONFLICT"
	codeNoEligibleNode   = "NO_ELIGIBLE_NODE"
	codeLedger           = "LEDGER_ERROR"
	codeStorage          = "STORAGE_ERROR"
	codeInternal         = "INTERNAL"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// ErrorBody is the error envelope: {"error": {"code": ..., "message": ...}}
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps an error onto its HTTP status and code
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, controller.ErrInvalidAddress):
		return http.StatusBadRequest, codeInvalidAddress
	case errors.Is(err, controller.ErrInvalidRequest):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, store.ErrJobNotFound), errors.Is(err, store.ErrNodeNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, controller.ErrJobNotPending):
		return http.StatusBadRequest, codeJobNotPending
	case errors.Is(err, controller.ErrJobCompleted),
		errors.Is(err, controller.ErrAssignmentInProgress),
		errors.Is(err, store.ErrDuplicateJob),
		errors.Is(err, store.ErrDuplicateNode):
		return http.StatusConflict, codeConflict
	case errors.Is(err, controller.ErrNoEligibleNode):
		return http.StatusServiceUnavailable, codeNoEligibleNode
	case errors.Is(err, controller.ErrLedger):
		return http.StatusInternalServerError, codeLedger
	case errors.Is(err, controller.ErrPersist), errors.Is(err, controller.ErrStorage):
		return http.StatusInternalServerError, codeStorage
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeErrorCode(w, status, code, err.Error())
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}
