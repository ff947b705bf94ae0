package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoobatch/internal/api/handlers"
	"github.com/yoockh/yoobatch/internal/api/middleware"
	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/utils"
)

const secret = "test-secret"

type fakeScheduler struct {
	submitted []string
	err       error
}

func (f *fakeScheduler) Submit(_ context.Context, userID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, userID+":"+text)
	return nil
}

func (f *fakeScheduler) Status(context.Context, string) (*services.SchedulerStatus, error) {
	return &services.SchedulerStatus{Scheduled: true, Pending: 2}, nil
}

type fakeResetter struct{}

func (fakeResetter) Reset(context.Context, string) (*services.ResetResult, error) {
	return &services.ResetResult{HandleEvicted: true}, nil
}

func newRouter(sched *fakeScheduler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Deps{
		Auth:     middleware.JWTConfig{Secret: secret},
		Messages: handlers.NewMessageHandler(sched, fakeResetter{}),
	})
	return r
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func do(r http.Handler, method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	w := do(newRouter(&fakeScheduler{}), http.MethodGet, "/ping", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitRequiresToken(t *testing.T) {
	r := newRouter(&fakeScheduler{})

	w := do(r, http.MethodPost, "/v1/messages", `{"text":"hi"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/v1/messages", `{"text":"hi"}`, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitBuffersForTokenSubject(t *testing.T) {
	sched := &fakeScheduler{}
	r := newRouter(sched)

	w := do(r, http.MethodPost, "/v1/messages", `{"text":"hello"}`, token(t, "42"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"42:hello"}, sched.submitted)

	w = do(r, http.MethodPost, "/v1/messages", `{}`, token(t, "42"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitErrorMapping(t *testing.T) {
	cases := []struct {
		code   utils.Code
		status int
	}{
		{utils.CodeRateLimited, http.StatusTooManyRequests},
		{utils.CodeUnavailable, http.StatusServiceUnavailable},
		{utils.CodeLockFailed, http.StatusConflict},
		{utils.CodeProcessing, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			r := newRouter(&fakeScheduler{err: utils.E(tc.code, "Scheduler.Submit", "nope", nil)})
			w := do(r, http.MethodPost, "/v1/messages", `{"text":"hi"}`, token(t, "42"))
			assert.Equal(t, tc.status, w.Code)

			var body handlers.APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestStatusAndReset(t *testing.T) {
	r := newRouter(&fakeScheduler{})

	w := do(r, http.MethodGet, "/v1/status", "", token(t, "42"))
	require.Equal(t, http.StatusOK, w.Code)
	var st services.SchedulerStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Scheduled)
	assert.Equal(t, 2, st.Pending)

	w = do(r, http.MethodPost, "/v1/reset", "", token(t, "42"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"handle_evicted":true`)
}

func TestOptionalRoutesAbsent(t *testing.T) {
	r := newRouter(&fakeScheduler{})
	w := do(r, http.MethodGet, "/v1/runs", "", token(t, "42"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
