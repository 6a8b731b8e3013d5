package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/domain"
)

// 对外暴露的错误消息
const (
	MsgNotFound         = "Not Found"
	MsgAddressNotFound  = "Email not found or expired"
	MsgInternalError    = "Internal Server Error"
	MsgInvalidRequest   = "Invalid request"
	MsgInvalidSignature = "Invalid signature"
	MsgInvalidTimestamp = "Invalid timestamp"
)

// errorResponse API 错误响应
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError 统一输出错误响应，5xx 同时记录到 gin 上下文供请求日志使用
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		c.JSON(status, errorResponse{Error: err.Error()})
	case http.StatusNotFound:
		c.JSON(status, errorResponse{Error: MsgAddressNotFound})
	default:
		_ = c.Error(err)
		c.JSON(status, errorResponse{Error: MsgInternalError, Message: err.Error()})
	}
}
