package api

import (
	"github.com/gin-gonic/gin"

	"github.com/inboxpilot/mailagent/api/handlers"
	"github.com/inboxpilot/mailagent/api/middleware"
	"github.com/inboxpilot/mailagent/internal/repository"
	"github.com/inboxpilot/mailagent/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())

	// Health check and status endpoints stay open
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s.WatcherService))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILAGENT-API-KEY",
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", handlers.ListAccounts(repos.AccountRepository))
			accounts.POST("", handlers.AddAccount(repos.AccountRepository, s.WatcherService))
			accounts.DELETE("/:id", handlers.RemoveAccount(repos.AccountRepository, s.WatcherService))

			accounts.GET("/:id/rules", handlers.GetRules(repos.RuleRepository))
			accounts.PUT("/:id/rules", handlers.PutRules(repos.RuleRepository, s.ReconcileService))

			accounts.POST("/:id/process", handlers.ProcessPending(s.TriageService))
			accounts.POST("/:id/reprocess", handlers.ReprocessAll(repos.MessageRepository, s.TriageService))
		}

		messages := api.Group("/messages")
		{
			messages.GET("", handlers.ListMessages(repos.MessageRepository))
			messages.GET("/:id", handlers.GetMessage(repos.MessageRepository))
			messages.PUT("/:id/draft", handlers.UpdateDraft(repos.MessageRepository))
			messages.POST("/:id/send", handlers.SendDraft(s.TriageService))
		}

		prompts := api.Group("/prompts")
		{
			prompts.GET("/:name", handlers.GetPrompt(repos.SettingRepository))
			prompts.PUT("/:name", handlers.PutPrompt(repos.SettingRepository))
		}

		api.GET("/reconcile/status", handlers.GetReconcileStatus(s.ReconcileService))
	}
}
