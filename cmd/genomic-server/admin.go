package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/genomic/genomic/internal/platform/middleware"
)

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	PatientCount   int    `json:"patientCount"`
	ActivePatients int    `json:"activePatients"`
	CatalogSize    int    `json:"catalogSize"`
}

// newAdminServer builds the operator HTTP surface: health and metrics only.
// Patient data is never served over HTTP.
func newAdminServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.MetricsMiddleware())

	e.GET("/health", func(c echo.Context) error {
		ctx := c.Request().Context()
		active, err := a.patients.ActiveCount(ctx)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("health check failed")
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Version: version})
		}
		return c.JSON(http.StatusOK, healthResponse{
			Status:         "ok",
			Version:        version,
			PatientCount:   a.patients.PatientCount(ctx),
			ActivePatients: active,
			CatalogSize:    a.catalog.Len(),
		})
	})

	if a.cfg.MetricsEnabled {
		metricsHandler := a.metrics.PrometheusHandler()
		e.GET("/metrics", func(c echo.Context) error {
			a.metrics.SetPatients(a.patients.PatientCount(c.Request().Context()))
			return metricsHandler(c)
		})
	}

	return e
}
