package middleware

import "github.com/gin-gonic/gin"

type Middleware struct{}

func NewMiddleware() *Middleware {
	return &Middleware{}
}

// Load 全局中间件，需先于业务路由加载
func (Middleware) Load(g *gin.Engine) {
	g.Use(gin.Recovery(), RequestId(), Logger, NoCache(), Secure())
}
