package performer

import (
	"errors"
	"flowdesk/domain"
	"flowdesk/idgen"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

// Repository reads and writes performer rows. Implementations are bound to one transaction.
type Repository interface {
	FindByTask(taskID types.ID) ([]domain.TaskPerformer, error)
	FindActiveByTask(taskID types.ID) ([]domain.TaskPerformer, error)
	FindCompletedByTask(taskID types.ID) ([]domain.TaskPerformer, error)
	// FindByKey returns the row of the key whatever its status, nil when there is none.
	FindByKey(taskID types.ID, key Key) (*domain.TaskPerformer, error)
	CountActiveUnits(taskID types.ID) (int, error)
	Create(p *domain.TaskPerformer) error
	Save(p *domain.TaskPerformer) error

	// FindActiveGroupTasks lists open tasks having an active GROUP performer of the group.
	FindActiveGroupTasks(groupID types.ID) ([]domain.Task, error)
	// FindActiveTaskIDsByUser lists open tasks having an active USER row of the user.
	FindActiveTaskIDsByUser(userID types.ID) ([]types.ID, error)
	GroupMemberIDs(groupIDs ...types.ID) (GroupSnapshot, error)
	// UpsertWorkflowMembers adds the missing members and returns the ids added.
	UpsertWorkflowMembers(workflowID types.ID, userIDs []types.ID) ([]types.ID, error)
}

type GormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

const performerTable = "task_performers"

// scopeActive is the only place excluding soft deleted rows, every active query goes
// through it.
func scopeActive(db *gorm.DB, table string) *gorm.DB {
	return db.Where(table+".directly_status <> ?", domain.DirectlyStatusDeleted)
}

func scopeUnits(db *gorm.DB, table string) *gorm.DB {
	return db.Where("("+table+".type = ? OR ("+table+".type = ? AND "+table+".source_group_id = 0))",
		domain.PerformerTypeGroup, domain.PerformerTypeUser)
}

var (
	openTaskStatuses     = []domain.TaskStatus{domain.TaskStatusActive, domain.TaskStatusDelayed}
	liveWorkflowStatuses = []domain.WorkflowStatus{domain.WorkflowStatusRunning, domain.WorkflowStatusDelayed}
)

func (r *GormRepository) FindByTask(taskID types.ID) ([]domain.TaskPerformer, error) {
	var rows []domain.TaskPerformer
	if err := r.db.Where("task_id = ?", taskID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormRepository) FindActiveByTask(taskID types.ID) ([]domain.TaskPerformer, error) {
	var rows []domain.TaskPerformer
	if err := scopeActive(r.db, performerTable).Where("task_id = ?", taskID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormRepository) FindCompletedByTask(taskID types.ID) ([]domain.TaskPerformer, error) {
	var rows []domain.TaskPerformer
	if err := scopeActive(r.db, performerTable).Where("task_id = ? AND is_completed = ?", taskID, true).
		Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormRepository) FindByKey(taskID types.ID, key Key) (*domain.TaskPerformer, error) {
	q := r.db.Where("task_id = ? AND type = ?", taskID, key.Type)
	if key.Type == domain.PerformerTypeGroup {
		q = q.Where("group_id = ? AND user_id = 0", key.TargetID)
	} else {
		q = q.Where("user_id = ? AND group_id = 0", key.TargetID)
	}
	row := domain.TaskPerformer{}
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *GormRepository) CountActiveUnits(taskID types.ID) (int, error) {
	var count int
	q := scopeUnits(scopeActive(r.db.Model(&domain.TaskPerformer{}), performerTable), performerTable)
	if err := q.Where("task_id = ?", taskID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormRepository) Create(p *domain.TaskPerformer) error {
	if p.ID == 0 {
		p.ID = idgen.Next()
	}
	if p.CreateTime.IsZero() {
		p.CreateTime = time.Now()
	}
	return r.db.Create(p).Error
}

func (r *GormRepository) Save(p *domain.TaskPerformer) error {
	return r.db.Save(p).Error
}

func (r *GormRepository) FindActiveGroupTasks(groupID types.ID) ([]domain.Task, error) {
	var tasks []domain.Task
	q := scopeActive(r.db.Table("tasks").Select("tasks.*").
		Joins("JOIN "+performerTable+" ON "+performerTable+".task_id = tasks.id").
		Joins("JOIN workflows ON workflows.id = tasks.workflow_id"), performerTable).
		Where(performerTable+".type = ? AND "+performerTable+".group_id = ? AND tasks.status IN (?) AND workflows.status IN (?)",
			domain.PerformerTypeGroup, groupID, openTaskStatuses, liveWorkflowStatuses)
	if err := q.Order("tasks.id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *GormRepository) FindActiveTaskIDsByUser(userID types.ID) ([]types.ID, error) {
	var ids []types.ID
	q := scopeActive(r.db.Table(performerTable).
		Joins("JOIN tasks ON tasks.id = "+performerTable+".task_id").
		Joins("JOIN workflows ON workflows.id = tasks.workflow_id"), performerTable).
		Where(performerTable+".type = ? AND "+performerTable+".user_id = ? AND tasks.status IN (?) AND workflows.status IN (?)",
			domain.PerformerTypeUser, userID, openTaskStatuses, liveWorkflowStatuses)
	if err := q.Order(performerTable+".task_id ASC").Pluck(performerTable+".task_id", &ids).Error; err != nil {
		return nil, err
	}
	return uniqueIDs(ids), nil
}

func (r *GormRepository) GroupMemberIDs(groupIDs ...types.ID) (GroupSnapshot, error) {
	snapshot := GroupSnapshot{}
	if len(groupIDs) == 0 {
		return snapshot, nil
	}
	var members []domain.UserGroupMember
	if err := r.db.Where("group_id IN (?)", groupIDs).Order("group_id ASC, user_id ASC").Find(&members).Error; err != nil {
		return nil, err
	}
	for _, gid := range groupIDs {
		snapshot[gid] = []types.ID{}
	}
	for _, m := range members {
		snapshot[m.GroupID] = append(snapshot[m.GroupID], m.UserID)
	}
	return snapshot, nil
}

func (r *GormRepository) UpsertWorkflowMembers(workflowID types.ID, userIDs []types.ID) ([]types.ID, error) {
	userIDs = uniqueIDs(userIDs)
	if len(userIDs) == 0 {
		return nil, nil
	}
	var existing []types.ID
	if err := r.db.Model(&domain.WorkflowMember{}).Where("workflow_id = ? AND user_id IN (?)", workflowID, userIDs).
		Pluck("user_id", &existing).Error; err != nil {
		return nil, err
	}
	found := map[types.ID]bool{}
	for _, id := range existing {
		found[id] = true
	}
	var added []types.ID
	for _, uid := range userIDs {
		if found[uid] {
			continue
		}
		if err := r.db.Create(&domain.WorkflowMember{ID: idgen.Next(), WorkflowID: workflowID, UserID: uid}).Error; err != nil {
			return nil, err
		}
		added = append(added, uid)
	}
	return added, nil
}
