package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/convobank/orchestrator/pkg/auth"
	"github.com/convobank/orchestrator/pkg/dispatch"
	"github.com/convobank/orchestrator/pkg/services"
)

// errorResponse is the error envelope for every non-2xx JSON response.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// errorHandler maps pipeline errors onto the error envelope. Streaming
// responses that already committed are left alone — their failure story was
// told in-stream.
func (s *Server) errorHandler(c *echo.Context, err error) {
	if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
		return
	}

	status, kind, message := classifyError(err)
	if status == http.StatusInternalServerError {
		slog.Error("Unexpected request error",
			"path", c.Request().URL.Path, "error", err)
	}
	if jsonErr := c.JSON(status, errorResponse{Error: errorBody{
		Kind:    kind,
		Message: message,
	}}); jsonErr != nil {
		slog.Error("Failed to write error response", "error", jsonErr)
	}
}

func classifyError(err error) (status int, kind, message string) {
	var dispErr *dispatch.Error
	switch {
	case errors.Is(err, auth.ErrUnknownCustomer):
		return http.StatusNotFound, "unknown_customer",
			"no banking customer is linked to this identity"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated",
			"the bearer token could not be verified"
	case errors.Is(err, services.ErrEmptyMessage):
		return http.StatusBadRequest, "bad_request",
			"the request contains no user message"
	case errors.As(err, &dispErr):
		switch dispErr.Kind {
		case dispatch.KindAgentTimeout:
			return http.StatusGatewayTimeout, string(dispErr.Kind),
				"the specialist agent did not answer in time"
		default:
			return http.StatusBadGateway, string(dispErr.Kind),
				"the specialist agent could not be reached"
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		kind := "bad_request"
		if httpErr.Code == http.StatusUnauthorized {
			kind = "unauthenticated"
		} else if httpErr.Code >= 500 {
			kind = "internal"
		}
		return httpErr.Code, kind, fmt.Sprintf("%v", httpErr.Message)
	}

	return http.StatusInternalServerError, "internal", "internal server error"
}
