package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"library-lending/internal/model"
)

const defaultRequestTimeout = 15 * time.Second

// Timeout bounds every request. The request context carries the deadline, so
// store calls made by the handler are cancelled with it.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	body, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    "REQUEST_TIMEOUT",
			Message: "request timed out",
		},
	})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(body))
	}
}
