package main

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/docservice"
)

// respondWithError maps an apperr.Kind to an HTTP status per the service's
// external error mapping: Validation/NotFound map to their natural 4xx
// status, Authentication/Authorization to 401/403, everything else
// (Storage, Upstream, Rate, Workflow) is a 5xx with a correlation id when
// one is attached. Degraded results are never surfaced as an error: they
// come back as a 200 body with a Degraded flag.
func respondWithError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Authentication:
		status = http.StatusUnauthorized
	case apperr.Authorization:
		status = http.StatusForbidden
	}

	body := map[string]string{"error": err.Error()}
	if ae, ok := err.(*apperr.Error); ok && ae.Correlation != "" {
		body["correlation_id"] = ae.Correlation
	}
	return c.JSON(status, body)
}

type storeDocumentRequest struct {
	RequestID string         `json:"request_id"`
	Content   string         `json:"content"`
	Format    string         `json:"format"`
	Metadata  map[string]any `json:"metadata"`
	Model     string         `json:"model"`
}

func storeDocumentHandler(svc *docservice.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req storeDocumentRequest
		if err := c.Bind(&req); err != nil {
			return respondWithError(c, apperr.Wrap(apperr.Validation, err, "invalid request body"))
		}
		result, err := svc.Store(c.Request().Context(), docservice.StoreRequest{
			RequestID: req.RequestID,
			Content:   []byte(req.Content),
			Format:    req.Format,
			Metadata:  req.Metadata,
			Model:     req.Model,
		})
		if err != nil {
			return respondWithError(c, err)
		}
		return c.JSON(http.StatusCreated, result)
	}
}

func retrieveDocumentHandler(svc *docservice.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		loadContent := c.QueryParam("content") == "true"
		result, err := svc.Retrieve(c.Request().Context(), docservice.RetrieveRequest{
			DocumentID:  c.Param("id"),
			LoadContent: loadContent,
		})
		if err != nil {
			return respondWithError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
}

type searchDocumentsRequest struct {
	Query    string         `json:"query"`
	Strategy string         `json:"strategy"`
	Filters  map[string]any `json:"filters"`
	Limit    int            `json:"limit"`
}

func searchDocumentsHandler(svc *docservice.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req searchDocumentsRequest
		if err := c.Bind(&req); err != nil {
			return respondWithError(c, apperr.Wrap(apperr.Validation, err, "invalid request body"))
		}
		result, err := svc.Search(c.Request().Context(), docservice.SearchRequest{
			Query:    req.Query,
			Strategy: req.Strategy,
			Filters:  req.Filters,
			Limit:    req.Limit,
		})
		if err != nil {
			return respondWithError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
}

type updateDocumentRequest struct {
	Content  *string        `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Model    string         `json:"model"`
}

func updateDocumentHandler(svc *docservice.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateDocumentRequest
		if err := c.Bind(&req); err != nil {
			return respondWithError(c, apperr.Wrap(apperr.Validation, err, "invalid request body"))
		}
		var content []byte
		if req.Content != nil {
			content = []byte(*req.Content)
		}
		err := svc.Update(c.Request().Context(), docservice.UpdateRequest{
			DocumentID: c.Param("id"),
			Content:    content,
			Metadata:   req.Metadata,
			Model:      req.Model,
		})
		if err != nil {
			return respondWithError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteDocumentHandler(svc *docservice.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return respondWithError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
