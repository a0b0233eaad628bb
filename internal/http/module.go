package http

import "github.com/gin-gonic/gin"

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups shared by all modules. V1 is public
// (funnel pages post leads there); Admin already requires a bearer token with
// the admin role.
type RouterContext struct {
	V1    *gin.RouterGroup
	Admin *gin.RouterGroup
}
