package server

import (
	"net/http"

	"github.com/Baaaki/heartscan/internal/config"
	"github.com/Baaaki/heartscan/internal/handler"
	"github.com/Baaaki/heartscan/internal/middleware"
	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/service"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the wired services the router exposes. The limiters are nil when
// Redis is not configured.
type Deps struct {
	Config            *config.Config
	AuthService       *service.AuthService
	UserService       *service.UserService
	MLModelService    *service.MLModelService
	PredictionService *service.PredictionService
	Feed              *handler.WebSocketHandler
	AuthLimiter       *middleware.RateLimiter
	UploadLimiter     *middleware.RateLimiter
}

func NewRouter(d Deps) *gin.Engine {
	handler.RegisterValidators()

	router := gin.New()
	// ClientIP feeds the rate limiters and the ban list, so forwarding
	// headers count only when they come from a configured proxy.
	if err := router.SetTrustedProxies(d.Config.TrustedProxies); err != nil {
		logger.Log.Warn("Invalid TRUSTED_PROXIES, trusting no proxy", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.MaxMultipartMemory = d.Config.MaxUploadBytes() + 1<<20
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(),
		middleware.CORS(d.Config.CORSOrigins),
		middleware.SecurityHeadersMiddleware(),
		middleware.HSTSMiddleware(d.Config.IsProduction()),
	)
	if d.AuthLimiter != nil {
		router.Use(d.AuthLimiter.BanGuard())
	}

	authHandler := handler.NewAuthHandler(d.AuthService)
	userHandler := handler.NewUserHandler(d.UserService)
	modelHandler := handler.NewMLModelHandler(d.MLModelService)
	predictionHandler := handler.NewPredictionHandler(d.PredictionService, d.Config.MaxUploadBytes())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to the Heart Disease Prediction API"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := router.Group("/auth", limit(d.AuthLimiter)...)
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(d.Config.JWTSecret, d.UserService))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleModerator)

	users := protected.Group("/users")
	{
		users.GET("/me", userHandler.Me)
		users.GET("", middleware.AdminOnly(), userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.PATCH("/:id", userHandler.Update)
		users.PATCH("/:id/block", staff, userHandler.Block)
		users.DELETE("/:id", middleware.AdminOnly(), userHandler.Delete)
	}

	mlmodels := protected.Group("/mlmodels", middleware.AdminOnly())
	{
		mlmodels.POST("", modelHandler.Create)
		mlmodels.GET("", modelHandler.List)
		mlmodels.GET("/:id", modelHandler.Get)
		mlmodels.PUT("/:id", modelHandler.Replace)
		mlmodels.DELETE("/:id", modelHandler.Delete)
	}

	predictions := protected.Group("/predictions")
	{
		predictions.POST("/upload", append(limit(d.UploadLimiter), predictionHandler.Upload)...)
		predictions.GET("", middleware.AdminOnly(), predictionHandler.List)
		predictions.GET("/labels", predictionHandler.Labels)
		predictions.GET("/review", middleware.ModeratorOnly(), predictionHandler.Review)
		predictions.GET("/images", middleware.AdminOnly(), predictionHandler.ListImages)
		predictions.GET("/image/:filename", predictionHandler.GetImage)
		predictions.DELETE("/image/:filename", middleware.AdminOnly(), predictionHandler.DeleteImage)
		predictions.GET("/:user_id", predictionHandler.ListForUser)
		predictions.PATCH("/:id", predictionHandler.UpdateNotes)
		if d.Feed != nil {
			predictions.GET("/ws", d.Feed.HandleWebSocket)
		}
	}

	if d.AuthLimiter != nil {
		adminHandler := handler.NewAdminHandler(d.AuthLimiter)
		admin := protected.Group("/admin", middleware.AdminOnly())
		{
			admin.POST("/ip-bans", adminHandler.BanIP)
			admin.DELETE("/ip-bans/:ip", adminHandler.UnbanIP)
		}
	}

	return router
}

func limit(rl *middleware.RateLimiter) []gin.HandlerFunc {
	if rl == nil {
		return nil
	}
	return []gin.HandlerFunc{rl.Middleware()}
}
