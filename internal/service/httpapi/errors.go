package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
)

// apiError — элемент конверта ошибок.
type apiError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type errorEnvelope struct {
	Errors []apiError `json:"errors"`
}

// statusFor сопоставляет класс доменной ошибки HTTP-статусу.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindPrecondition:
		return http.StatusPreconditionFailed
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := domain.Classify(err)
	status := statusFor(kind)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		detail = http.StatusText(status)
	}
	writeJSON(w, status, errorEnvelope{Errors: []apiError{{Code: code, Detail: detail}}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
