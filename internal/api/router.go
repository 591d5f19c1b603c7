package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/wizdom13/ytdlnis/internal/api/handlers"
	"github.com/wizdom13/ytdlnis/internal/api/middleware"
	"github.com/wizdom13/ytdlnis/internal/dispatch"
	"github.com/wizdom13/ytdlnis/internal/storage"
	"github.com/wizdom13/ytdlnis/internal/store"
	"github.com/wizdom13/ytdlnis/internal/token"
)

type RouterConfig struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Signer     *token.Signer
	Storage    storage.Provider
	APIKey     string
	Limiter    *store.RateLimiter
	BaseURL    string
}

func SetupRouter(e *echo.Echo, cfg RouterConfig) {
	handlers.InitErrors()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE"},
	}))

	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	jobsHandler := handlers.NewJobsHandler(cfg.Store, cfg.Dispatcher, cfg.Signer, cfg.BaseURL)
	downloadHandler := handlers.NewDownloadHandler(cfg.Store, cfg.Signer, cfg.Storage)

	// Token-authenticated download, outside bearer auth.
	e.GET("/api/download/:token", downloadHandler.Serve, middleware.RateLimitEcho(cfg.Limiter))

	group := e.Group("/api")
	config := huma.DefaultConfig("Media Fetch API", "1.0.0")
	config.Servers = []*huma.Server{{URL: "/api"}}
	config.Info.Description = "Asynchronous media fetch and delivery service"
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"BearerAuth": {
			Type:        "http",
			Scheme:      "bearer",
			Description: "Static API key",
		},
	}

	humaAPI := humaecho.NewWithGroup(e, group, config)

	authMw := middleware.BearerAuth(cfg.APIKey)
	rateMw := middleware.RateLimit(cfg.Limiter)
	secured := huma.Middlewares{authMw, rateMw}
	security := []map[string][]string{{"BearerAuth": {}}}

	huma.Register(humaAPI, huma.Operation{
		OperationID:   "jobs-submit",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Submit a fetch job",
		Tags:          []string{"Jobs"},
		Security:      security,
		Middlewares:   secured,
		DefaultStatus: http.StatusAccepted,
	}, jobsHandler.Submit)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "jobs-get",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job status and progress",
		Tags:        []string{"Jobs"},
		Security:    security,
		Middlewares: secured,
	}, jobsHandler.Get)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "jobs-result",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/result",
		Summary:     "Get the result with a fresh signed download URL",
		Tags:        []string{"Jobs"},
		Security:    security,
		Middlewares: secured,
	}, jobsHandler.Result)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "jobs-cancel",
		Method:      http.MethodDelete,
		Path:        "/jobs/{id}",
		Summary:     "Cancel a queued or running job",
		Tags:        []string{"Jobs"},
		Security:    security,
		Middlewares: secured,
	}, jobsHandler.Cancel)

	// SSE does not fit huma's typed responses; registered on the group
	// directly with the same auth and rate limit semantics.
	group.GET("/jobs/:id/events", jobsHandler.Events,
		bearerAuthEcho(cfg.APIKey), middleware.RateLimitEcho(cfg.Limiter))
}

func bearerAuthEcho(apiKey string) echo.MiddlewareFunc {
	return echomw.KeyAuthWithConfig(echomw.KeyAuthConfig{
		KeyLookup:  "header:Authorization",
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			return middleware.SecureCompare(key, apiKey), nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, handlers.ErrorBody{
				Kind:    "Unauthorized",
				Message: "invalid or missing bearer token",
			})
		},
	})
}
