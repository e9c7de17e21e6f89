package status

import (
	"klineflow/internal/model"
	"klineflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// Engine K线池对外暴露的只读状态
type Engine interface {
	Status() model.Status
	Symbols() []string
	Interval() model.Interval
	LastError() error
}

type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

type StatusResp struct {
	Status    model.Status `json:"status"`
	Interval  string       `json:"interval"`
	Symbols   int          `json:"symbols"`
	LastError string       `json:"last_error,omitempty"`
}

// StatusGet 引擎启动进度与订阅数量
func (h *Handler) StatusGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := StatusResp{
			Status:   h.engine.Status(),
			Interval: h.engine.Interval().String(),
			Symbols:  len(h.engine.Symbols()),
		}
		if err := h.engine.LastError(); err != nil {
			resp.LastError = err.Error()
		}
		response.JSON(c, nil, resp)
	}
}
