package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/types"
)

const protocolVersion = types.ProtocolVersion

type errorEnvelope struct {
	ProtocolVersion string    `json:"protocol_version"`
	Error           errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// writeError maps any error onto the shared envelope. Internal errors
// are logged in full but surface with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apierr.From(err)
	message := ae.Message
	if ae.Status >= 500 {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal error"
	}
	s.writeJSON(w, ae.Status, errorEnvelope{
		ProtocolVersion: protocolVersion,
		Error: errorBody{
			Code:      ae.Code,
			Message:   message,
			Retryable: ae.Retryable,
			Details:   ae.Details,
		},
	})
}

// decodeJSON reads a request body into dst, rejecting unknown noise.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apierr.Invalid(apierr.CodeInvalidPayload, "request body is not valid JSON")
	}
	return nil
}
