package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crowdfund/internal/service/lifecycle"
	"crowdfund/pkg/outbox"
)

// statusFor 把引擎错误分类映射为 HTTP 状态码
func statusFor(err error) int {
	switch lifecycle.KindOf(err) {
	case lifecycle.KindAuthorization:
		return http.StatusForbidden
	case lifecycle.KindNotFound:
		return http.StatusNotFound
	case lifecycle.KindValidation:
		return http.StatusBadRequest
	case lifecycle.KindState:
		return http.StatusConflict
	case lifecycle.KindBusinessRule:
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, outbox.ErrEventNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": err.Error()}
	if kind := lifecycle.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	c.JSON(status, body)
}

// idParam 解析路径中的 ID；不存在的产品交给引擎判定。失败时已写入 400
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// Caller 返回 AuthMiddleware 写入的调用方身份
func Caller(c *gin.Context) string {
	return c.GetString(CallerKey)
}

const (
	CallerKey = "caller"
	RoleKey   = "role"
)
