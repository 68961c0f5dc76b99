package migration

import (
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	auditdomain "github.com/isabella232/smartstart-sub000/internal/audit/domain"
	"github.com/isabella232/smartstart-sub000/internal/config"
	leaderdomain "github.com/isabella232/smartstart-sub000/internal/leader/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}
		return conn.AutoMigrate(
			&applicationdomain.Application{},
			&auditdomain.Record{},
			&leaderdomain.LeaderRecord{},
		)
	}),
)
