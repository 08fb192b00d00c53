package migration

import (
	"github.com/smallbiznis/edupoints/internal/clock"
	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/smallbiznis/edupoints/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, clk clock.Clock, log *zap.Logger) error {
		if err := applySchema(conn, cfg, log); err != nil {
			return err
		}

		if !cfg.SeedDemo {
			return nil
		}
		if cfg.IsProduction() {
			log.Warn("demo seed ignored in production")
			return nil
		}
		log.Info("seeding demo scopes")
		return seed.EnsureDemoScopes(conn, clk.Now())
	}),
)

func applySchema(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate {
		log.Info("schema migrations disabled")
		return nil
	}

	if conn.Dialector.Name() != "postgres" {
		log.Info("applying gorm schema", zap.String("dialect", conn.Dialector.Name()))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
