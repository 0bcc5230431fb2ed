package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/oncall-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_escalation_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AttemptModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_attempts_status_started ON escalation_attempts (status, started_at)`,
					`CREATE INDEX IF NOT EXISTS idx_attempts_event_id ON escalation_attempts (event_id)`,
					`CREATE INDEX IF NOT EXISTS idx_attempts_user_project ON escalation_attempts (user_id, project_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("escalation_attempts")
			},
		},
		{
			ID: "000002_create_notification_rules",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.RuleModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_rules_user_type ON notification_rules (project_id, user_id, rule_type)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("notification_rules")
			},
		},
		{
			ID: "000003_create_dispatch_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DispatchRecordModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatch_records_attempt_id ON dispatch_records (attempt_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("dispatch_records")
			},
		},
	})

	return m.Migrate()
}
