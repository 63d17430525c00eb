package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crowdfund/internal/handler"
	"crowdfund/pkg/rbac"
)

// RequirePermission 中间件：要求调用方角色具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := handler.Caller(c)
		if identity == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "caller not authenticated"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(identity, c.GetString(handler.RoleKey), permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}
