package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/plugin-registry/cmd/registry/container"
	"github.com/lyzr/plugin-registry/cmd/registry/handlers"
)

// RegisterPluginRoutes registers all plugin metadata routes
func RegisterPluginRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPluginInfoHandler(c.PluginInfoService, c.Components.Logger)

	plugins := e.Group("/api/v1/plugins")
	{
		plugins.GET("", h.List)          // GET /api/v1/plugins?service=orca
		plugins.POST("", h.Upsert)       // POST /api/v1/plugins
		plugins.GET("/:id", h.Get)       // GET /api/v1/plugins/armory.helloWorld
		plugins.DELETE("/:id", h.Delete) // DELETE /api/v1/plugins/armory.helloWorld

		plugins.POST("/:id/releases", h.CreateRelease)              // POST /api/v1/plugins/:id/releases
		plugins.PUT("/:id/releases", h.UpsertRelease)               // PUT /api/v1/plugins/:id/releases
		plugins.DELETE("/:id/releases/:version", h.DeleteRelease)   // DELETE /api/v1/plugins/:id/releases/1.0.0
		plugins.PUT("/:id/releases/:version/preferred", h.PreferRelease) // PUT /api/v1/plugins/:id/releases/1.0.0/preferred

		plugins.POST("/:id/binaries/:version", h.UploadBinary)  // POST /api/v1/plugins/:id/binaries/1.0.0
		plugins.GET("/:id/binaries/:version", h.DownloadBinary) // GET /api/v1/plugins/:id/binaries/1.0.0
	}
}
