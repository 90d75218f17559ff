package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redpomodoro/fronius-modbus/internal/config"
	"github.com/redpomodoro/fronius-modbus/pkg/fronius_modbus"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

type Server struct {
	port    uint
	httpLog bool
	hub     *fronius_modbus.Hub
	logger  *zap.Logger
}

func NewServer(cfg config.Config, hub *fronius_modbus.Hub, logger *zap.Logger) *http.Server {
	NewServer := &Server{
		port:    cfg.Port,
		hub:     hub,
		httpLog: cfg.HttpLog,
		logger:  logger,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
