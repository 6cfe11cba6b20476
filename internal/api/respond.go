package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, errCode, message string) {
	respondWithJSON(w, code, errorBody{Error: message, Code: errCode})
}

// respondWithAppError maps a classified error to its status. Causes of
// persistence failures are logged and never sent to the client.
func (h *Handler) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindPersistence {
		h.logger.WithError(ae.Err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}
	respondWithError(w, ae.Kind.HTTPStatus(), ae.Code, ae.Message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return apperr.Validation(apperr.CodeInvalidRequest, "request body is required")
	}
	return apperr.Validation(apperr.CodeInvalidRequest, "invalid request body")
}
