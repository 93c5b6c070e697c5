package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/queue"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// IngestHandler queues a textbook for graph construction.
func IngestHandler(c echo.Context) error {
	type ingestResponse struct {
		Message  string `json:"message"`
		PagesKey string `json:"pages_key,omitempty"`
	}

	data := new(queue.IngestMessage)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}

	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	if app.Ingest == nil {
		return c.JSON(http.StatusServiceUnavailable, ingestResponse{
			Message: "Ingestion queue not configured",
		})
	}

	body, err := json.Marshal(data)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}

	if err := app.Ingest.Enqueue(c.Request().Context(), body); err != nil {
		logger.Error("[Server] Failed to enqueue ingest job", "pages_key", data.PagesKey, "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}

	logger.Info("[Server] Ingest job queued", "pages_key", data.PagesKey)
	return c.JSON(http.StatusAccepted, ingestResponse{
		Message:  "Ingest job queued",
		PagesKey: data.PagesKey,
	})
}
