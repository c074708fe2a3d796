package routes

import (
	"github.com/fleetbridge/backend/internal/controllers"
	"github.com/fleetbridge/backend/internal/dispatch"
	"github.com/fleetbridge/backend/internal/fanout"
	"github.com/fleetbridge/backend/internal/ledger"
	"github.com/fleetbridge/backend/internal/middleware"
	"github.com/fleetbridge/backend/internal/models"
	"github.com/fleetbridge/backend/internal/secrets"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, db *gorm.DB, led *ledger.Ledger, hub *fanout.Hub, dispatcher *dispatch.Dispatcher, box *secrets.Box) {
	// Initialize controllers
	authController := controllers.NewAuthController(db)
	userController := controllers.NewUserController(db)
	jobController := controllers.NewJobController(led, hub, dispatcher)
	regionController := controllers.NewRegionController(db)
	deviceController := controllers.NewDeviceController(db, box)

	operator := middleware.RequireRole(models.RoleOperator)
	admin := middleware.RequireRole()

	// API routes
	api := r.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
			auth.POST("/register", authController.Register)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			protected.POST("/auth/refresh", authController.RefreshToken)

			// Users
			users := protected.Group("/users")
			{
				users.GET("/me", userController.GetCurrentUser)
				users.PUT("/me", userController.UpdateCurrentUser)
				users.GET("", admin, userController.GetUsers)
				users.PUT("/:id/role", admin, userController.UpdateUserRole)
			}

			// Jobs: submission and cancellation need OPERATOR, reads are open
			// to every authenticated role.
			jobs := protected.Group("/jobs")
			{
				jobs.POST("", operator, jobController.SubmitJob)
				jobs.GET("", jobController.ListJobs)
				jobs.GET("/:id", jobController.GetJob)
				jobs.GET("/:id/logs", jobController.GetLogs)
				jobs.GET("/:id/logs/stream", jobController.StreamLogs)
				jobs.POST("/:id/cancel", operator, jobController.CancelJob)
			}

			// Regions
			regions := protected.Group("/regions")
			{
				regions.GET("", regionController.ListRegions)
				regions.GET("/:id", regionController.GetRegion)
				regions.POST("", admin, regionController.CreateRegion)
				regions.PUT("/:id", admin, regionController.UpdateRegion)
				regions.PUT("/:id/health", operator, regionController.UpdateHealth)
				regions.DELETE("/:id", admin, regionController.DeleteRegion)
			}

			// Devices
			devices := protected.Group("/devices")
			{
				devices.GET("", deviceController.ListDevices)
				devices.GET("/:id", deviceController.GetDevice)
				devices.POST("", operator, deviceController.CreateDevice)
				devices.PUT("/:id", operator, deviceController.UpdateDevice)
				devices.DELETE("/:id", operator, deviceController.DeleteDevice)
			}

			// Credentials
			credentials := protected.Group("/credentials")
			{
				credentials.GET("", operator, deviceController.ListCredentials)
				credentials.POST("", operator, deviceController.CreateCredential)
				credentials.DELETE("/:id", admin, deviceController.DeleteCredential)
			}
		}
	}
}
