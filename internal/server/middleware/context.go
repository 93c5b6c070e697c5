package middleware

import (
	"context"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/query"

	"github.com/labstack/echo/v4"
)

// Questioner answers one question against the textbook graph.
type Questioner interface {
	Answer(ctx context.Context, question string) (*query.Result, error)
}

// Enqueuer hands an encoded job to the ingestion queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) error
}

type App struct {
	Answerer Questioner
	// Ingest is nil when the server runs without a queue.
	Ingest Enqueuer
	APIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
