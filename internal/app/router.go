package app

import (
	"rulebook_backend/docs"
	"rulebook_backend/internal/config"
	"rulebook_backend/internal/middleware"
	"rulebook_backend/internal/model"
	"rulebook_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/", func(ctx *gin.Context) { ctx.String(200, "API Running") })

	actor := middleware.ActorMiddleware(a.services.auth)

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c, cfg)

	// 2. 需要登录的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), actor)
	{
		a.registerMemberRoutes(authGroup, c)
	}

	// 3. 管理员接口
	a.registerAdminRoutes(router, c, cfg, actor)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/auth/register", c.auth.Register)
		public.POST("/auth/login", c.auth.Login)
		public.POST("/auth/promote", c.auth.Promote)
		public.GET("/public/members", c.user.PublicMembers)

		public.GET("/lessons", c.lesson.List)
		public.GET("/lessons/:id", c.lesson.Get)
	}

	// 列表类：可选认证，游客只能看到公开状态
	optional := router.Group("/api")
	optional.Use(middleware.TryAuthMiddleware(cfg), middleware.OptionalActorMiddleware(a.services.auth))
	{
		optional.GET("/proposals", c.proposal.List)
		optional.GET("/proposals/:id", c.proposal.Get)
		optional.GET("/events/proposals", c.proposal.Events)
	}
}

// registerMemberRoutes 任何登录用户；角色细则由工作流策略判断
func (a *App) registerMemberRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/auth/me", c.auth.GetProfile)
	rg.POST("/auth/password", c.auth.ChangePassword)

	rg.POST("/assets/images", c.asset.UploadImage)

	proposals := rg.Group("/proposals")
	{
		proposals.POST("", c.proposal.Create)
		proposals.PUT("/:id", c.proposal.Update)
		proposals.DELETE("/:id", c.proposal.Delete)

		proposals.PUT("/:id/submit_internal", c.proposal.SubmitInternal)
		proposals.PUT("/:id/approve_internal", c.proposal.ApproveInternal)
		proposals.PUT("/:id/open", c.proposal.Open)
		proposals.PUT("/:id/withdraw", c.proposal.Withdraw)
		proposals.PUT("/:id/consent", c.proposal.Consent)
		proposals.PUT("/:id/approve", c.proposal.Approve)
		proposals.PUT("/:id/reject", c.proposal.Reject)
		proposals.PUT("/:id/submit_public", c.proposal.SubmitPublic)
		proposals.PUT("/:id/rate", c.proposal.Rate)
		proposals.POST("/:id/remark", c.proposal.Remark)
		proposals.PUT("/:id/publish", c.proposal.Publish)
	}
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, cfg *config.Config, actor gin.HandlerFunc) {
	admin := router.Group("/api")
	admin.Use(middleware.AuthMiddleware(cfg), actor, middleware.RoleMiddleware(model.Admin))
	{
		admin.GET("/users", c.user.GetUsers)
		admin.PUT("/users/:id/role", c.user.UpdateRole)
		admin.POST("/lessons/seed", c.lesson.Seed)
	}
}
