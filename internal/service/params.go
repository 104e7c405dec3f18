package service

import (
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/event"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/gateway"
	"github.com/meterline/meterline/internal/logger"
)

// ServiceParams holds the dependencies shared by the services.
type ServiceParams struct {
	Logger      *logger.Logger
	Config      *config.Configuration
	EventRepo   event.Repository
	InvoiceRepo invoice.Repository
	Gateway     gateway.Gateway
}
