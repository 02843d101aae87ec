package template

import (
	"flowdesk/account"
	"flowdesk/bizerror"
	"flowdesk/domain"
	"flowdesk/event"
	"flowdesk/idgen"
	"flowdesk/infra/tracing"
	"flowdesk/persistence"
	"flowdesk/session"
	"fmt"
	"strconv"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/gorm"
)

var (
	ImportTemplateFunc = ImportTemplate
	QueryTemplatesFunc = QueryTemplates

	validate = validator.New()
)

// Definition is a template as written by an operator, tasks numbered in declaration order.
type Definition struct {
	Name   string            `yaml:"name" json:"name" validate:"required,max=200"`
	Owners []OwnerDefinition `yaml:"owners" json:"owners" validate:"dive"`
	Tasks  []TaskDefinition  `yaml:"tasks" json:"tasks" validate:"required,min=1,dive"`
}

type OwnerDefinition struct {
	Type domain.OwnerType `yaml:"type" json:"type" validate:"oneof=USER GROUP"`
	ID   uint64           `yaml:"id" json:"id" validate:"required"`
}

type TaskDefinition struct {
	Name                   string                `yaml:"name" json:"name" validate:"required,max=200"`
	RequireCompletionByAll bool                  `yaml:"requireCompletionByAll" json:"requireCompletionByAll"`
	DueInDays              int                   `yaml:"dueInDays" json:"dueInDays" validate:"min=0"`
	Performers             []PerformerDefinition `yaml:"performers" json:"performers" validate:"required,min=1,dive"`
	Predicates             []PredicateDefinition `yaml:"predicates" json:"predicates" validate:"dive"`
}

// PerformerDefinition sets ID for USER and GROUP rules and Field for FIELD rules.
type PerformerDefinition struct {
	Type  domain.PerformerType `yaml:"type" json:"type" validate:"oneof=USER GROUP FIELD WORKFLOW_STARTER"`
	ID    uint64               `yaml:"id" json:"id" validate:"required_if=Type USER,required_if=Type GROUP"`
	Field string               `yaml:"field" json:"field" validate:"required_if=Type FIELD,max=200"`
}

type PredicateDefinition struct {
	Field     string `yaml:"field" json:"field" validate:"required,max=200"`
	FieldType string `yaml:"fieldType" json:"fieldType" validate:"required,max=32"`
	Operator  string `yaml:"operator" json:"operator" validate:"required,max=32"`
	Value     string `yaml:"value" json:"value"`
}

// ImportTemplate stores a complete template: tasks, performer rules, owners and predicates.
// Referenced users and groups must belong to the actor's account.
func ImportTemplate(def *Definition, s *session.Session) (t *domain.Template, err error) {
	span, ctx := tracing.StartOperation(s.Ctx(), "template.ImportTemplate")
	defer func() { tracing.FinishOperation(span, err) }()

	if err := validate.Struct(def); err != nil {
		return nil, err
	}
	if !s.HasAdminRights() {
		return nil, bizerror.ErrForbidden
	}

	t = &domain.Template{ID: idgen.Next(), AccountID: s.AccountID, Name: def.Name, IsActive: true, CreateTime: time.Now()}
	err = persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkReferences(tx, s.AccountID, def); err != nil {
			return err
		}
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		for _, o := range def.Owners {
			owner := &domain.TemplateOwner{ID: idgen.Next(), TemplateID: t.ID, Type: o.Type}
			if o.Type == domain.OwnerTypeGroup {
				owner.GroupID = types.ID(o.ID)
			} else {
				owner.UserID = types.ID(o.ID)
			}
			if err := tx.Create(owner).Error; err != nil {
				return err
			}
		}
		for i, td := range def.Tasks {
			if err := createTask(tx, t, i+1, &td); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	event.Record(ctx, event.TemplateImported, s, event.Target{Type: event.TargetTypeTemplate, ID: t.ID}, 0, 0)
	return t, nil
}

func createTask(tx *gorm.DB, t *domain.Template, number int, td *TaskDefinition) error {
	tt := &domain.TaskTemplate{ID: idgen.Next(), TemplateID: t.ID, Number: number, Name: td.Name,
		RequireCompletionByAll: td.RequireCompletionByAll, DueInDays: td.DueInDays}
	if err := tx.Create(tt).Error; err != nil {
		return err
	}
	for _, pd := range td.Performers {
		rule := &domain.RawPerformerTemplate{ID: idgen.Next(), TemplateID: t.ID, TaskTemplateID: tt.ID, Type: pd.Type}
		switch pd.Type {
		case domain.PerformerTypeUser:
			rule.UserID = types.ID(pd.ID)
		case domain.PerformerTypeGroup:
			rule.GroupID = types.ID(pd.ID)
		case domain.PerformerTypeField:
			rule.FieldAPIName = pd.Field
		}
		if err := tx.Create(rule).Error; err != nil {
			return err
		}
	}
	for _, p := range td.Predicates {
		predicate := &domain.PredicateTemplate{ID: idgen.Next(), TemplateID: t.ID, TaskTemplateID: tt.ID,
			FieldAPIName: p.Field, FieldType: p.FieldType, Operator: p.Operator, Value: p.Value}
		if err := tx.Create(predicate).Error; err != nil {
			return err
		}
	}
	return nil
}

func checkReferences(tx *gorm.DB, accountID types.ID, def *Definition) error {
	users := map[types.ID]struct{}{}
	groups := map[types.ID]struct{}{}
	add := func(kind string, id uint64) {
		if kind == string(domain.PerformerTypeGroup) {
			groups[types.ID(id)] = struct{}{}
		} else {
			users[types.ID(id)] = struct{}{}
		}
	}
	for _, o := range def.Owners {
		add(string(o.Type), o.ID)
	}
	for _, td := range def.Tasks {
		for _, pd := range td.Performers {
			if pd.Type == domain.PerformerTypeUser || pd.Type == domain.PerformerTypeGroup {
				add(string(pd.Type), pd.ID)
			}
		}
		for _, p := range td.Predicates {
			if p.FieldType != domain.PredicateFieldTypeUser || p.Value == "" {
				continue
			}
			id, err := strconv.ParseUint(p.Value, 10, 64)
			if err != nil {
				return fmt.Errorf("predicate on %s: user value %q is not an id: %w", p.Field, p.Value, err)
			}
			users[types.ID(id)] = struct{}{}
		}
	}

	userIDs := keys(users)
	count, err := account.CountAccountUsers(tx, accountID, userIDs)
	if err != nil {
		return err
	}
	if count != len(userIDs) {
		return bizerror.ErrNotFound
	}
	if groupIDs := keys(groups); len(groupIDs) > 0 {
		var count int
		if err := tx.Model(&domain.UserGroup{}).Where("account_id = ? AND id IN (?)", accountID, groupIDs).
			Count(&count).Error; err != nil {
			return err
		}
		if count != len(groupIDs) {
			return bizerror.ErrNotFound
		}
	}
	return nil
}

func QueryTemplates(s *session.Session) ([]domain.Template, error) {
	var templates []domain.Template
	if err := persistence.ActiveDataSourceManager.GormDBWithContext(s.Ctx()).
		Where("account_id = ?", s.AccountID).Order("id ASC").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

func keys(set map[types.ID]struct{}) []types.ID {
	ids := make([]types.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
