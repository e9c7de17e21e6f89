package response

import (
	"klineflow/internal/consts"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeServerError = 1
)

// 代表响应给客户端的的一个消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	RequestId string      `json:"request_id"` // 请求的唯一ID
	Code      int         `json:"code"`       // 错误码 0表示无错误
	Message   string      `json:"message"`    // 提示信息
	Data      interface{} `json:"data"`       // 响应数据
}

// 发送json格式数据，err 非空时返回 500
func JSON(c *gin.Context, err error, data interface{}) {
	httpStatus := http.StatusOK
	code, message := CodeSuccess, "success"
	if err != nil {
		httpStatus = http.StatusInternalServerError
		code, message = CodeServerError, err.Error()
	}
	c.JSON(httpStatus, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      code,
		Message:   message,
		Data:      data,
	})
}
