package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/query"

	"github.com/labstack/echo/v4"
)

// QueryHandler answers a question from the textbook graph.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Query string `json:"query" validate:"required"`
	}

	type queryResponse struct {
		Message string                    `json:"message,omitempty"`
		Answer  string                    `json:"answer,omitempty"`
		Kind    ai.AnswerKind             `json:"kind,omitempty"`
		Context string                    `json:"context,omitempty"`
		Figures []string                  `json:"figures,omitempty"`
		Trace   *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}

	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	res, err := app.Answerer.Answer(c.Request().Context(), data.Query)
	if err != nil {
		logger.Error("[Server] Query failed", "err", err)
		return c.JSON(http.StatusInternalServerError, queryResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, queryResponse{
		Answer:  res.Answer,
		Kind:    res.Kind,
		Context: res.Context,
		Figures: res.Figures,
		Trace:   &res.Trace,
	})
}
