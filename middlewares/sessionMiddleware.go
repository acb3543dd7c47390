package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionUser is the cached user record stored under "User:<username>" by the login service.
type SessionUser struct {
	Username string `json:"username"`
	Owner    string `json:"owner"`
	Role     string `json:"role"`
}

// SessionMiddleware resolves the "token" header through redis: "Token:<token>" holds the
// username and "User:<username>" the cached user with its owner.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.LookupSessionUsername(c.Request.Context(), token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		var user SessionUser
		found, err := config.LookupSessionUser(c.Request.Context(), username, &user)
		if err != nil || !found || user.Owner == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		ctx = utils.SetOwnerInContext(ctx, user.Owner)
		if user.Role == utils.RoleAdmin {
			ctx = utils.SetIsAdminInContext(ctx, true)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
