package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auth "github.com/phillip/schoolfund-go/auth"
	config "github.com/phillip/schoolfund-go/config"
	controllers "github.com/phillip/schoolfund-go/controllers"
	metrics "github.com/phillip/schoolfund-go/metrics"
	middleware "github.com/phillip/schoolfund-go/middleware"
	models "github.com/phillip/schoolfund-go/models"
	services "github.com/phillip/schoolfund-go/services"
)

// NewRouter builds the engine with global middleware and all routes.
func NewRouter(cfg *config.Config, svc *services.Services, tokens *auth.Issuer, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "If-None-Match"},
		ExposeHeaders:    []string{"ETag", "Last-Modified", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.MaxMultipartMemory = 8 << 20

	SetupRoutes(r, cfg, svc, tokens)
	return r
}

func SetupRoutes(r *gin.Engine, cfg *config.Config, svc *services.Services, tokens *auth.Issuer) {
	// ops
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	if !cfg.CloudinaryEnabled() {
		r.Static("/uploads", cfg.UploadDir)
	}

	// payment processor callbacks read the raw body
	r.POST("/webhooks/stripe", controllers.StripeWebhook(svc))

	authed := middleware.AuthMiddleware(tokens)
	donor := middleware.RequireRole(models.RoleDonor)
	school := middleware.RequireRole(models.RoleSchool)
	principal := middleware.RequireRole(models.RolePrincipal)
	admin := middleware.RequireRole(models.RoleAdmin)
	loginLimit := middleware.NewRateLimiter(10, 5).Middleware()

	api := r.Group("/api")

	donors := api.Group("/donors")
	{
		donors.POST("/register", controllers.RegisterDonor(svc))
		donors.POST("/login", loginLimit, controllers.LoginDonor(svc))
	}

	schools := api.Group("/schools")
	{
		schools.POST("/register", controllers.RegisterSchool(svc))
		schools.POST("/login", loginLimit, controllers.LoginSchool(svc))
		schools.POST("/:campaignId/spending", authed, school, controllers.RecordSpending(svc))
		schools.GET("/:schoolID/spending", controllers.ListSpending(svc))
		schools.GET("/:schoolID/summary", controllers.SchoolSummary(svc))
		schools.GET("/:schoolID/expense-report", authed, school, controllers.ExpenseReport(svc))
	}

	api.POST("/principals/login", loginLimit, controllers.LoginPrincipal(svc))

	admins := api.Group("/admin")
	{
		admins.POST("/login", loginLimit, controllers.LoginAdmin(svc))
		requests := admins.Group("/school-requests", authed, admin)
		requests.GET("", controllers.ListSchoolRequests(svc))
		requests.POST("/:id/approve", controllers.ApproveSchool(svc))
		requests.POST("/:id/decline", controllers.DeclineSchool(svc))
	}

	campaigns := api.Group("/campaigns")
	{
		campaigns.GET("", controllers.ListCampaigns(svc))
		campaigns.GET("/categories", controllers.ListCategories())
		campaigns.GET("/school/:schoolID", controllers.ListSchoolCampaigns(svc))
		campaigns.GET("/principal/pending", authed, principal, controllers.ListPrincipalPending(svc))
		campaigns.GET("/:id", controllers.GetCampaign(svc))
		campaigns.POST("", authed, school, controllers.CreateCampaign(svc))
		campaigns.POST("/:id/close", authed, school, controllers.CloseCampaign(svc))
		campaigns.POST("/principal-approve/:id", authed, principal, controllers.PrincipalDecide(svc))
		campaigns.DELETE("/:id", authed, school, controllers.DeleteCampaign(svc))
	}

	donations := api.Group("/donations")
	{
		donations.POST("/monetary", authed, donor, controllers.CreateMonetaryDonation(svc))
		donations.POST("/nonmonetary", authed, donor, controllers.CreateNonMonetaryDonation(svc))
		donations.GET("/history", authed, donor, controllers.DonationHistory(svc))
		donations.GET("/school/:schoolID", controllers.SchoolDonations(svc))
		donations.PATCH("/nonmonetary/:id/status", authed, school, controllers.UpdateNonMonetaryStatus(svc))
	}

	payments := api.Group("/payments", authed, donor)
	{
		payments.POST("/checkout", controllers.CreateCheckout(svc))
		payments.GET("/verify", controllers.VerifySession(svc))
	}
}
