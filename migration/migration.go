package migration

import (
	"flowdesk/account"
	"flowdesk/domain"
	"flowdesk/event"

	"github.com/jinzhu/gorm"
)

// Migrate creates or updates every table of the engine. It is safe to run repeatedly.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&account.Account{}, &account.User{},
		&domain.UserGroup{}, &domain.UserGroupMember{},
		&domain.Template{}, &domain.TemplateOwner{}, &domain.TaskTemplate{},
		&domain.RawPerformerTemplate{}, &domain.PredicateTemplate{},
		&domain.Workflow{}, &domain.WorkflowMember{}, &domain.Task{},
		&domain.TaskPerformer{}, &domain.Predicate{}, &domain.FieldValue{},
		&event.EventRecord{},
	).Error
}
