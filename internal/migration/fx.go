package migration

import (
	"github.com/smallbiznis/leadforge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if cfg.DBType != "postgres" {
			log.Info("running gorm auto migration", zap.String("dialect", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		result, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema ready",
			zap.Uint("from_version", result.From),
			zap.Uint("to_version", result.To),
			zap.Bool("applied", result.Applied),
		)
		return nil
	}),
)
