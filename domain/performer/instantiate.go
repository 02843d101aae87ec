package performer

import (
	"errors"
	"flowdesk/bizerror"
	"flowdesk/domain"
	"flowdesk/persistence"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

var InstantiateFunc = Instantiate

// Instantiate materializes the performers of a task being activated from the raw rules of its
// template task. Direct users become USER rows; each group becomes one GROUP row and its
// members not covered otherwise get group derived USER rows. Groups without members still get
// their row. The workflow starter performs the task when the rules resolve to nobody. It
// returns the ids of every covered user.
func Instantiate(tx *gorm.DB, task *domain.Task, workflow *domain.Workflow) ([]types.ID, error) {
	var rules []domain.RawPerformerTemplate
	if err := tx.Where("task_template_id = ?", task.TaskTemplateID).Order("id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}

	repo := NewRepository(tx)
	var groupIDs []types.ID
	for _, rule := range rules {
		if rule.Type == domain.PerformerTypeGroup {
			groupIDs = append(groupIDs, rule.GroupID)
		}
	}
	groups, err := repo.GroupMemberIDs(groupIDs...)
	if err != nil {
		return nil, err
	}
	fields, err := LoadFieldSnapshot(tx, workflow.ID)
	if err != nil {
		return nil, err
	}

	plan := PlanFromTemplate(rules, groups, fields, workflow.StarterID)
	if plan.IsEmpty() {
		if workflow.StarterID == 0 {
			return nil, domain.ErrNoPerformers
		}
		plan.Users = []types.ID{workflow.StarterID}
	}

	var covered []types.ID
	for _, uid := range plan.Users {
		if err := ensureUnit(repo, task, UserTarget(uid)); err != nil {
			return nil, err
		}
		covered = append(covered, uid)
	}
	for _, gid := range plan.Groups {
		if err := ensureUnit(repo, task, GroupTarget(gid)); err != nil {
			return nil, err
		}
		for _, uid := range plan.Members[gid] {
			if _, err := Cover(repo, task, gid, uid); err != nil {
				return nil, err
			}
			covered = append(covered, uid)
		}
	}
	covered = uniqueIDs(covered)
	if _, err := repo.UpsertWorkflowMembers(workflow.ID, covered); err != nil {
		return nil, err
	}
	return covered, nil
}

func ensureUnit(repo Repository, task *domain.Task, target Target) error {
	row, err := repo.FindByKey(task.ID, target.Key())
	if err != nil {
		return err
	}
	if row == nil {
		p := &domain.TaskPerformer{TaskID: task.ID, WorkflowID: task.WorkflowID, Type: target.Kind}
		if target.IsGroup() {
			p.GroupID = target.ID
		} else {
			p.UserID = target.ID
		}
		return repo.Create(p)
	}
	if row.IsActive() && !row.IsGroupDerived() {
		return nil
	}
	row.DirectlyStatus = domain.DirectlyStatusNone
	row.SourceGroupID = 0
	return repo.Save(row)
}

// LoadFieldSnapshot reads the user typed field values of a workflow. Values of later tasks
// win over kickoff values with the same api name.
func LoadFieldSnapshot(db *gorm.DB, workflowID types.ID) (FieldSnapshot, error) {
	var values []domain.FieldValue
	if err := db.Where("workflow_id = ? AND type = ?", workflowID, domain.FieldTypeUser).
		Order("task_id ASC, id ASC").Find(&values).Error; err != nil {
		return nil, err
	}
	snapshot := FieldSnapshot{}
	for _, v := range values {
		if v.UserID != 0 {
			snapshot[v.APIName] = v.UserID
		}
	}
	return snapshot, nil
}

// LockTask loads a task, locking its row until the end of the transaction where supported.
func LockTask(tx *gorm.DB, taskID types.ID) (*domain.Task, error) {
	task := domain.Task{}
	if err := persistence.LockForUpdate(tx).Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerror.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

func LoadWorkflow(tx *gorm.DB, workflowID types.ID) (*domain.Workflow, error) {
	workflow := domain.Workflow{}
	if err := tx.Where("id = ?", workflowID).First(&workflow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerror.ErrNotFound
		}
		return nil, err
	}
	return &workflow, nil
}
