package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/apperr"
)

func serveError(t *testing.T, err error) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) { SendError(c, err) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSendError_InvalidTransitionCarriesState(t *testing.T) {
	w, resp := serveError(t, apperr.InvalidTransition("offer", "completed", "accepted"))

	require.Equal(t, http.StatusConflict, w.Code)
	require.False(t, resp.Success)
	require.Equal(t, "invalid_state_transition", resp.Code)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "completed", data["current_state"])
}

func TestSendError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperr.NotFound("offer"), http.StatusNotFound},
		{"denied", apperr.PermissionDenied("not yours"), http.StatusForbidden},
		{"invalid", apperr.Invalid("content required"), http.StatusBadRequest},
		{"transient", apperr.Transient("db", errors.New("timeout")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := serveError(t, tt.err)
			require.Equal(t, tt.want, w.Code)
			require.False(t, resp.Success)
		})
	}
}

func TestSendError_HidesInternalDetails(t *testing.T) {
	_, resp := serveError(t, errors.New("pq: password authentication failed"))
	require.Equal(t, "internal server error", resp.Message)
}
