package server

import (
	"errors"
	"net/http"

	"github.com/redpomodoro/fronius-modbus/pkg/fronius_modbus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type storageModeRequest struct {
	Command string `json:"command"`
}

type storagePercentRequest struct {
	Percent float64 `json:"percent"`
}

type storageWattsRequest struct {
	Watts float64 `json:"watts"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/data", s.DataHandler)
	e.POST("/api/storage/mode", s.StorageModeHandler)
	e.POST("/api/storage/minimum_reserve", s.StorageMinimumReserveHandler)
	e.POST("/api/storage/charge_rate", s.StorageChargeRateHandler)
	e.POST("/api/storage/discharge_rate", s.StorageDischargeRateHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	if s.hub.Healthy() {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// DataHandler dumps the current decoded register snapshot.
func (s *Server) DataHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Store().Snapshot())
}

func (s *Server) StorageModeHandler(c echo.Context) error {
	var req storageModeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	cmd, err := fronius_modbus.ParseCommand(req.Command)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := s.hub.Control().Apply(cmd); err != nil {
		s.logger.Error("storage mode command failed", zap.String("command", req.Command), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"command": req.Command})
}

func (s *Server) StorageMinimumReserveHandler(c echo.Context) error {
	var req storagePercentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := s.hub.Control().SetMinimumReserve(req.Percent); err != nil {
		if errors.Is(err, fronius_modbus.ErrReserveTooLow) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		s.logger.Error("minimum reserve command failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"percent": req.Percent})
}

func (s *Server) StorageChargeRateHandler(c echo.Context) error {
	var req storageWattsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := s.hub.Control().SetChargeRateW(req.Watts); err != nil {
		s.logger.Error("charge rate command failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"watts": req.Watts})
}

func (s *Server) StorageDischargeRateHandler(c echo.Context) error {
	var req storageWattsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := s.hub.Control().SetDischargeRateW(req.Watts); err != nil {
		s.logger.Error("discharge rate command failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"watts": req.Watts})
}
