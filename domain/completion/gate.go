package completion

import (
	"context"
	"errors"
	"flowdesk/bizerror"
	"flowdesk/domain"
	"flowdesk/domain/performer"
	"flowdesk/domain/workflow"
	"flowdesk/infra/tracing"
	"flowdesk/persistence"
	"flowdesk/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"
)

var (
	// CompleteTaskFunc advances the workflow once a task may complete.
	CompleteTaskFunc = workflow.CompleteTask

	CheckTaskCompletionFunc = CheckTaskCompletion
)

// CanComplete evaluates the completion criterion over the active performer units of the task:
// one completed unit is enough unless the task requires completion by all. A task without
// units never completes.
func CanComplete(task *domain.Task, rows []domain.TaskPerformer) bool {
	units, completed := 0, 0
	for i := range rows {
		if !rows[i].IsUnit() {
			continue
		}
		units++
		if rows[i].IsCompleted {
			completed++
		}
	}
	if units == 0 {
		return false
	}
	if task.RequireCompletionByAll {
		return completed == units
	}
	return completed > 0
}

// SelectCompletingUser picks who completes the task: the first completed direct user, else the
// first completed member row of a completed group, else the first member of a completed group.
func SelectCompletingUser(rows []domain.TaskPerformer, members performer.GroupSnapshot) (types.ID, bool) {
	completedGroups := map[types.ID]bool{}
	var groupOrder []types.ID
	for _, row := range rows {
		if !row.IsActive() || !row.IsCompleted {
			continue
		}
		if row.Type == domain.PerformerTypeUser && !row.IsGroupDerived() {
			return row.UserID, true
		}
		if row.Type == domain.PerformerTypeGroup {
			completedGroups[row.GroupID] = true
			groupOrder = append(groupOrder, row.GroupID)
		}
	}
	for _, row := range rows {
		if row.IsActive() && row.IsCompleted && row.IsGroupDerived() && completedGroups[row.SourceGroupID] {
			return row.UserID, true
		}
	}
	for _, gid := range groupOrder {
		if m := members[gid]; len(m) > 0 {
			return m[0], true
		}
	}
	return 0, false
}

// CheckTaskCompletion completes the task through CompleteTaskFunc when it is active and its
// performers satisfy the completion criterion. It must run after the performer change
// committed; errors of the workflow advancement are returned as is.
func CheckTaskCompletion(ctx context.Context, taskID types.ID) (completed bool, err error) {
	span, ctx := tracing.StartOperation(ctx, "completion.CheckTaskCompletion")
	defer func() { tracing.FinishOperation(span, err) }()

	db := persistence.ActiveDataSourceManager.GormDBWithContext(ctx)
	task := domain.Task{}
	if err := db.Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, bizerror.ErrNotFound
		}
		return false, err
	}
	if task.Status != domain.TaskStatusActive {
		return false, nil
	}

	repo := performer.NewRepository(db)
	rows, err := repo.FindActiveByTask(taskID)
	if err != nil {
		return false, err
	}
	if !CanComplete(&task, rows) {
		return false, nil
	}

	var groupIDs []types.ID
	for _, row := range rows {
		if row.Type == domain.PerformerTypeGroup && row.IsCompleted {
			groupIDs = append(groupIDs, row.GroupID)
		}
	}
	members, err := repo.GroupMemberIDs(groupIDs...)
	if err != nil {
		return false, err
	}
	userID, found := SelectCompletingUser(rows, members)
	if !found {
		return false, nil
	}

	logrus.WithFields(logrus.Fields{"task": taskID, "user": userID}).Info("task performers satisfied, completing task")
	if err := CompleteTaskFunc(ctx, &task, userID); err != nil {
		return false, err
	}
	return true, nil
}

// ResumeTask resumes a delayed task and completes it at once when its performers finished
// while it was delayed.
func ResumeTask(ctx context.Context, taskID types.ID, s *session.Session) (*domain.Task, error) {
	task, err := workflow.ResumeTaskFunc(ctx, taskID, s)
	if err != nil {
		return nil, err
	}
	if _, err := CheckTaskCompletionFunc(ctx, taskID); err != nil {
		return task, err
	}
	return task, nil
}
