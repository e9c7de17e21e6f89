package router

import (
	"klineflow/internal/handler/ping"
	"klineflow/internal/handler/status"

	"github.com/gin-gonic/gin"
)

// OpsRouter 运维接口：存活检查与引擎状态
type OpsRouter struct {
	statusHandler *status.Handler
}

func NewOpsRouter(sh *status.Handler) *OpsRouter {
	return &OpsRouter{statusHandler: sh}
}

func (r *OpsRouter) Load(g *gin.Engine) {
	g.GET("/ping", ping.Ping())
	g.GET("/status", r.statusHandler.StatusGet())
}
