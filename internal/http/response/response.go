package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// ErrorEnvelope is the body of every non-2xx admin response.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError aborts the request with the error envelope. Backend errors
// (status >= 500) are attached to the gin context for the request log and
// replaced by the status text in the body, so store addresses and driver
// messages stay out of responses.
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		_ = c.Error(err)
		if status < http.StatusInternalServerError {
			msg = err.Error()
		}
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Code:    code,
			Message: msg,
			TraceID: c.GetString("trace_id"),
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
