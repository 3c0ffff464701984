package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"AgentEscrow-Chain/internal/auth"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/pkg/logger"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// action is a mutating endpoint run for an authenticated caller.
type action func(ctx context.Context, caller string, r *http.Request) (any, error)

// query is a read endpoint.
type query func(ctx context.Context, r *http.Request) (any, error)

func (s *Server) mutation(a action) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, xerrors.New(xerrors.CodeUnauthorized, "request is not authenticated"))
			return
		}
		out, err := a(r.Context(), caller, r)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
}

func (s *Server) read(q query) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := q(r.Context(), r)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		logger.L().Error("request failed", "code", code, "error", err)
	}
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	writeJSON(w, status, ErrorBody{Code: code, Message: msg})
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidArgument, xerrors.CodeMemoProtocol:
		return http.StatusBadRequest
	case xerrors.CodeInvalidState, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeEconomicInvariant, xerrors.CodeTiming:
		return http.StatusUnprocessableEntity
	case xerrors.CodeStorageFailure, xerrors.CodeLedgerFailure, xerrors.CodeQueueFailure, xerrors.CodeInitialization:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads an optional JSON body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "malformed request body")
	}
	return nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid id %q", raw)
	}
	return id, nil
}
