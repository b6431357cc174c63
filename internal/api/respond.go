package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/repo"
	"github.com/storefront/services/ecommerce/internal/service"
)

// errBadRequest marks malformed requests
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Failed to write response", zap.Error(err))
	}
}

// fail writes the status for err. Errors matching target mean the addressed
// resource is absent (404); other domain errors are the caller's fault (400).
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error, target error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, target):
		status = http.StatusNotFound
	case errors.Is(err, repo.ErrConcurrencyConflict):
		status = http.StatusConflict
	case errors.Is(err, repo.ErrCustomerNotFound),
		errors.Is(err, repo.ErrProductNotFound),
		errors.Is(err, repo.ErrOrderNotFound),
		errors.Is(err, repo.ErrInsufficientStock),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, h.log, status, errorResponse{Error: msg})
}

func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		return 0, pkgerrors.Wrap(errBadRequest, "invalid id")
	}
	return uint(id), nil
}

func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return pkgerrors.Wrap(errBadRequest, "malformed JSON body: "+err.Error())
	}
	return nil
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
