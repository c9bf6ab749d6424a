package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// NewServer builds the echo instance with middleware and every route.
func NewServer(logger zerolog.Logger, h *Handler, ih *IngestHandler, metricsHandler http.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())

	e.GET("/health", h.Health)
	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}

	api := e.Group("/api")
	api.GET("/companies/:ticker", h.Company)
	api.GET("/companies/:ticker/statements", h.Statements)
	api.GET("/companies/:ticker/history", h.History)
	api.GET("/autocomplete", h.Autocomplete)

	if ih != nil {
		admin := e.Group("/admin")
		admin.GET("/status", ih.IngestStatus)
		admin.POST("/import", ih.Import)
		admin.POST("/fundamentals/regenerate", ih.RegenerateFundamentals)
		admin.POST("/market/snapshots", ih.RefreshSnapshots)
		admin.POST("/market/weekly", ih.WeeklyUpdate)
		admin.POST("/market/history", ih.BackfillHistories)
	}
	return e
}

// RequestLogger logs each request through zerolog and puts the logger on the
// request context.
func RequestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	logRequest := middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil {
				ev = logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return logRequest(func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))
			return next(c)
		})
	}
}
