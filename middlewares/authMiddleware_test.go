package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whoAmI(c *gin.Context) {
	owner, _ := utils.GetOwnerFromContext(c.Request.Context())
	admin, _ := utils.GetIsAdminFromContext(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"owner": owner, "admin": admin})
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("API_SECRET", "unit-test")
	t.Setenv("TOKEN_HOUR_LIFESPAN", "")
	r := gin.New()
	r.GET("/me", AuthMiddleware(), whoAmI)

	userToken, err := utils.JwtGenerate("owner-a", "")
	require.NoError(t, err)
	adminToken, err := utils.JwtGenerate("owner-ops", utils.RoleAdmin)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"no header passes through", "", http.StatusOK, `{"admin":false,"owner":""}`},
		{"user token", "Bearer " + userToken, http.StatusOK, `{"admin":false,"owner":"owner-a"}`},
		{"admin token", "bearer " + adminToken, http.StatusOK, `{"admin":true,"owner":"owner-ops"}`},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.JSONEq(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestCorrelationMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/ping", CorrelationMiddleware(), func(c *gin.Context) {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.String(http.StatusOK, cid)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-correlation-id", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get("x-correlation-id"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get("x-correlation-id"))
}
