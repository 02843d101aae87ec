package migration_test

import (
	"flowdesk/domain"
	"flowdesk/migration"
	"flowdesk/testinfra"
	"testing"

	. "github.com/onsi/gomega"
)

func TestMigrate(t *testing.T) {
	RegisterTestingT(t)

	t.Run("should create tables and be repeatable", func(t *testing.T) {
		testDatabase := testinfra.StartTestDatabase("migration")
		defer testinfra.StopTestDatabase(testDatabase)

		db := testDatabase.DS.GormDB()
		Expect(migration.Migrate(db)).To(BeNil())
		for _, table := range []string{"users", "accounts", "task_performers", "raw_performer_templates",
			"template_owners", "workflow_members", "predicate_templates", "predicates", "field_values",
			"user_groups", "user_group_members", "tasks", "workflows", "events"} {
			Expect(db.HasTable(table)).To(BeTrue(), table)
		}
	})

	t.Run("should enforce the performer natural key", func(t *testing.T) {
		testDatabase := testinfra.StartTestDatabase("migration")
		defer testinfra.StopTestDatabase(testDatabase)

		db := testDatabase.DS.GormDB()
		Expect(db.Create(&domain.TaskPerformer{ID: 1, TaskID: 10, Type: domain.PerformerTypeUser, UserID: 100}).Error).To(BeNil())
		Expect(db.Create(&domain.TaskPerformer{ID: 2, TaskID: 10, Type: domain.PerformerTypeUser, UserID: 100}).Error).ToNot(BeNil())
		Expect(db.Create(&domain.TaskPerformer{ID: 3, TaskID: 10, Type: domain.PerformerTypeGroup, GroupID: 100}).Error).To(BeNil())
	})
}
