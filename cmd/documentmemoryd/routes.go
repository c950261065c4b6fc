package main

import (
	"github.com/labstack/echo/v4"

	"github.com/intelligencedev/docmemory/internal/docservice"
)

// registerRoutes sets up the document memory API, mirroring the teacher's
// registerRoutes/registerAPIEndpoints grouping under a single /api group.
func registerRoutes(e *echo.Echo, svc *docservice.Service) {
	e.GET("/healthz", healthHandler)

	api := e.Group("/api")
	registerDocumentEndpoints(api, svc)
}

// registerDocumentEndpoints registers the five document memory operations.
func registerDocumentEndpoints(api *echo.Group, svc *docservice.Service) {
	docs := api.Group("/documents")
	docs.POST("", storeDocumentHandler(svc))
	docs.GET("/:id", retrieveDocumentHandler(svc))
	docs.PATCH("/:id", updateDocumentHandler(svc))
	docs.DELETE("/:id", deleteDocumentHandler(svc))
	api.POST("/search", searchDocumentsHandler(svc))
}

func healthHandler(c echo.Context) error {
	return c.JSON(200, map[string]string{"status": "ok"})
}
