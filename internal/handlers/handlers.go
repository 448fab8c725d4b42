package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/internal/services"
)

type Handlers struct {
	Health   *HealthHandler
	Auth     *AuthHandler
	Products *ProductHandler
	Bundles  *BundleHandler
	ML       *MLHandler
	Admin    *AdminHandler
}

func New(cfg *config.Config, logger *logrus.Logger, svc *services.Services) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(logger, svc.Health, svc.Comfort),
		Auth:     NewAuthHandler(logger, svc.Auth),
		Products: NewProductHandler(logger, svc.Catalog),
		Bundles:  NewBundleHandler(logger, svc.Bundles),
		ML:       NewMLHandler(logger, svc),
		Admin:    NewAdminHandler(logger, cfg, svc.Jobs),
	}
}
