package migration

import (
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	"github.com/smallbiznis/sendora/internal/config"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := conn.AutoMigrate(&customerdomain.Customer{}, &auditdomain.AuditEvent{}); err != nil {
				return err
			}
		}

		if !cfg.IsCloud() && cfg.Bootstrap.SeedDemoTenant {
			return seed.EnsureDemoTenant(conn)
		}
		return nil
	}),
)
