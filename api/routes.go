package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"marketplace.aleph.sh/version"
)

// SetupRoutes mounts every endpoint on e.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version.Get(),
		})
	})

	api := e.Group("/api")

	// catalog
	api.GET("/apps", h.ListApps)
	api.GET("/apps/:id", h.GetApp)

	// wallet auth
	api.POST("/auth/nonce", h.RequestNonce, perMinuteLimiter(20))
	api.POST("/auth/verify", h.VerifySignature, perMinuteLimiter(10))
	api.GET("/auth/session", h.SessionInfo)
	api.POST("/auth/logout", h.Logout)

	// network reads
	api.GET("/credits/:address", h.GetCredits)
	api.GET("/ssh-keys/:address", h.ListSSHKeys)
	api.GET("/crns", h.ListCRNs)
	api.GET("/allocation/:instance_hash", h.GetAllocation)
	api.GET("/marketplace-key", h.MarketplaceKey)
	api.POST("/notify-allocation", h.NotifyAllocation, h.requireSession)

	// deployments
	api.POST("/deploy/ssh", h.StartDeploy, h.requireSession)
	api.GET("/deploy/ssh/:deployment_id", h.DeployProgress)
	api.GET("/deployments/my", h.MyDeployments, h.requireSession)
	api.GET("/deployments/:id/status", h.DeploymentStatus, h.requireSession)
	api.POST("/deployments/:id/stop", h.StopDeployment, h.requireSession)
	api.DELETE("/deployments/:id", h.DeleteDeployment, h.requireSession)
}
