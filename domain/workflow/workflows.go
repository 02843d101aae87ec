package workflow

import (
	"context"
	"errors"
	"flowdesk/bizerror"
	"flowdesk/domain"
	"flowdesk/domain/performer"
	"flowdesk/domain/state"
	"flowdesk/event"
	"flowdesk/idgen"
	"flowdesk/infra/tracing"
	"flowdesk/notification"
	"flowdesk/persistence"
	"flowdesk/session"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"
)

var (
	StartWorkflowFunc     = StartWorkflow
	CompleteTaskFunc      = CompleteTask
	DelayTaskFunc         = DelayTask
	ResumeTaskFunc        = ResumeTask
	SkipTaskFunc          = SkipTask
	TerminateWorkflowFunc = TerminateWorkflow

	validate = validator.New()
)

type FieldInput struct {
	APIName string           `json:"apiName" validate:"required,max=200"`
	Type    domain.FieldType `json:"type" validate:"required,oneof=user string"`
	Value   string           `json:"value"`
	UserID  types.ID         `json:"userId"`
}

type StartCommand struct {
	TemplateID types.ID     `json:"templateId" validate:"required"`
	Name       string       `json:"name" validate:"required,max=200"`
	Kickoff    []FieldInput `json:"kickoff" validate:"dive"`
}

// activation is a task that became active in a transaction, notified after commit.
type activation struct {
	task    *domain.Task
	covered []types.ID
}

// StartWorkflow instantiates a template: tasks are created pending, predicates and kickoff
// values copied, then the first task is activated with its performers.
func StartWorkflow(ctx context.Context, c *StartCommand, s *session.Session) (wf *domain.Workflow, err error) {
	span, ctx := tracing.StartOperation(ctx, "workflow.StartWorkflow")
	defer func() { tracing.FinishOperation(span, err) }()

	if err := validate.Struct(c); err != nil {
		return nil, err
	}

	var activated *activation
	db := persistence.ActiveDataSourceManager.GormDBWithContext(ctx)
	err = db.Transaction(func(tx *gorm.DB) error {
		template := domain.Template{}
		if err := tx.Where("id = ? AND account_id = ?", c.TemplateID, s.AccountID).First(&template).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return bizerror.ErrNotFound
			}
			return err
		}
		if !template.IsActive {
			return bizerror.ErrForbidden
		}
		var taskTemplates []domain.TaskTemplate
		if err := tx.Where("template_id = ?", template.ID).Order("number ASC").Find(&taskTemplates).Error; err != nil {
			return err
		}
		if len(taskTemplates) == 0 {
			return domain.ErrTemplateEmpty
		}

		now := time.Now()
		wf = &domain.Workflow{ID: idgen.Next(), AccountID: s.AccountID, TemplateID: template.ID, Name: c.Name,
			Status: domain.WorkflowStatusRunning, StarterID: s.Identity.ID, CreateTime: now}
		if err := tx.Create(wf).Error; err != nil {
			return err
		}
		if err := tx.Create(&domain.WorkflowMember{ID: idgen.Next(), WorkflowID: wf.ID, UserID: s.Identity.ID, IsOwner: true}).Error; err != nil {
			return err
		}

		taskIDs := map[types.ID]types.ID{}
		for _, tt := range taskTemplates {
			task := &domain.Task{ID: idgen.Next(), WorkflowID: wf.ID, TaskTemplateID: tt.ID, Number: tt.Number,
				Name: tt.Name, Status: domain.TaskStatusPending, RequireCompletionByAll: tt.RequireCompletionByAll}
			if tt.DueInDays > 0 {
				due := now.AddDate(0, 0, tt.DueInDays)
				task.DueDate = &due
			}
			if err := tx.Create(task).Error; err != nil {
				return err
			}
			taskIDs[tt.ID] = task.ID
		}

		var predicates []domain.PredicateTemplate
		if err := tx.Where("template_id = ?", template.ID).Order("id ASC").Find(&predicates).Error; err != nil {
			return err
		}
		for _, p := range predicates {
			if err := tx.Create(&domain.Predicate{ID: idgen.Next(), WorkflowID: wf.ID, TaskID: taskIDs[p.TaskTemplateID],
				FieldAPIName: p.FieldAPIName, FieldType: p.FieldType, Operator: p.Operator, Value: p.Value}).Error; err != nil {
				return err
			}
		}
		for _, f := range c.Kickoff {
			if err := tx.Create(&domain.FieldValue{ID: idgen.Next(), WorkflowID: wf.ID, TaskID: domain.KickoffTaskID,
				APIName: f.APIName, Type: f.Type, Value: f.Value, UserID: f.UserID}).Error; err != nil {
				return err
			}
		}

		var err error
		activated, err = activateNext(tx, wf, 0)
		return err
	})
	if err != nil {
		return nil, err
	}

	notifyActivated(ctx, activated)
	return wf, nil
}

// CompleteTask completes an active task on behalf of the completing user and activates the
// next pending task, or finishes the workflow after the last one.
func CompleteTask(ctx context.Context, task *domain.Task, completingUserID types.ID) (err error) {
	span, ctx := tracing.StartOperation(ctx, "workflow.CompleteTask")
	defer func() { tracing.FinishOperation(span, err) }()

	var activated *activation
	db := persistence.ActiveDataSourceManager.GormDBWithContext(ctx)
	err = db.Transaction(func(tx *gorm.DB) error {
		locked, wf, err := transit(tx, task.ID, state.TaskCompleted, nil)
		if err != nil {
			return err
		}
		activated, err = activateNext(tx, wf, locked.Number)
		return err
	})
	if err != nil {
		return err
	}

	actor := &session.Session{Identity: session.Identity{ID: completingUserID}, AuthType: session.AuthTypeSystem}
	event.Publish(ctx, event.NewEvent(event.TaskCompleted, actor, event.Target{Type: event.TargetTypeTask, ID: task.ID}, task.ID, task.WorkflowID))
	notifyActivated(ctx, activated)
	return nil
}

// DelayTask suspends an active task. Performer changes of a delayed task send no notification
// and never complete it.
func DelayTask(ctx context.Context, taskID types.ID, s *session.Session) (*domain.Task, error) {
	var task *domain.Task
	err := adminTransaction(ctx, s, func(tx *gorm.DB) error {
		var wf *domain.Workflow
		var err error
		task, wf, err = transit(tx, taskID, state.TaskDelayed, s)
		if err != nil {
			return err
		}
		return tx.Model(wf).Update("status", domain.WorkflowStatusDelayed).Error
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ResumeTask reactivates a delayed task and notifies its performers.
func ResumeTask(ctx context.Context, taskID types.ID, s *session.Session) (*domain.Task, error) {
	var task *domain.Task
	err := adminTransaction(ctx, s, func(tx *gorm.DB) error {
		var wf *domain.Workflow
		var err error
		task, wf, err = transit(tx, taskID, state.TaskActive, s)
		if err != nil {
			return err
		}
		return tx.Model(wf).Update("status", domain.WorkflowStatusRunning).Error
	})
	if err != nil {
		return nil, err
	}

	var userIDs []types.ID
	if err := persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Model(&domain.TaskPerformer{}).
		Where("task_id = ? AND type = ? AND directly_status <> ?", taskID, domain.PerformerTypeUser, domain.DirectlyStatusDeleted).
		Pluck("user_id", &userIDs).Error; err != nil {
		logrus.Warnf("load performers of resumed task %d: %v", taskID, err)
		return task, nil
	}
	notifyActivated(ctx, &activation{task: task, covered: userIDs})
	return task, nil
}

// SkipTask skips a pending or active task. Skipping the active task activates the next one.
func SkipTask(ctx context.Context, taskID types.ID, s *session.Session) (*domain.Task, error) {
	var task *domain.Task
	var activated *activation
	err := adminTransaction(ctx, s, func(tx *gorm.DB) error {
		wasActive := false
		var wf *domain.Workflow
		var err error
		task, wf, err = transitFrom(tx, taskID, state.TaskSkipped, s, func(t *domain.Task) { wasActive = t.Status == domain.TaskStatusActive })
		if err != nil {
			return err
		}
		if wasActive {
			activated, err = activateNext(tx, wf, task.Number)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	notifyActivated(ctx, activated)
	return task, nil
}

// TerminateWorkflow stops a workflow, its performers can no longer change.
func TerminateWorkflow(ctx context.Context, workflowID types.ID, s *session.Session) error {
	return adminTransaction(ctx, s, func(tx *gorm.DB) error {
		wf, err := performer.LoadWorkflow(tx, workflowID)
		if err != nil {
			return err
		}
		if !s.IsSuperuser && wf.AccountID != s.AccountID {
			return bizerror.ErrNotFound
		}
		if wf.IsCompleted() {
			return bizerror.ErrInvalidStateTransition
		}
		now := time.Now()
		return tx.Model(wf).Updates(map[string]interface{}{"status": domain.WorkflowStatusTerminated, "date_completed": &now}).Error
	})
}

func adminTransaction(ctx context.Context, s *session.Session, fn func(tx *gorm.DB) error) error {
	if !s.HasAdminRights() {
		return bizerror.ErrForbidden
	}
	return persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Transaction(fn)
}

func transit(tx *gorm.DB, taskID types.ID, to state.State, s *session.Session) (*domain.Task, *domain.Workflow, error) {
	return transitFrom(tx, taskID, to, s, nil)
}

// transitFrom locks the task and moves it to the target state when the task state machine
// allows it. A nil session is the system acting on any account.
func transitFrom(tx *gorm.DB, taskID types.ID, to state.State, s *session.Session,
	inspect func(t *domain.Task)) (*domain.Task, *domain.Workflow, error) {
	task, err := performer.LockTask(tx, taskID)
	if err != nil {
		return nil, nil, err
	}
	wf, err := performer.LoadWorkflow(tx, task.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	if s != nil && !s.IsSuperuser && wf.AccountID != s.AccountID {
		return nil, nil, bizerror.ErrNotFound
	}
	if wf.IsCompleted() || !state.TaskStateMachine.CanTransit(string(task.Status), to.Name) {
		return nil, nil, bizerror.ErrInvalidStateTransition
	}
	if inspect != nil {
		inspect(task)
	}

	changes := map[string]interface{}{"status": to.Name}
	now := time.Now()
	if to.Category == state.Done {
		changes["date_completed"] = &now
		task.DateCompleted = &now
	}
	if err := tx.Model(task).Updates(changes).Error; err != nil {
		return nil, nil, err
	}
	task.Status = domain.TaskStatus(to.Name)
	return task, wf, nil
}

// activateNext activates the first pending task after the given number, the workflow is done
// when there is none.
func activateNext(tx *gorm.DB, wf *domain.Workflow, after int) (*activation, error) {
	next := domain.Task{}
	err := tx.Where("workflow_id = ? AND number > ? AND status = ?", wf.ID, after, domain.TaskStatusPending).
		Order("number ASC").First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now()
		wf.Status = domain.WorkflowStatusDone
		wf.DateCompleted = &now
		return nil, tx.Model(wf).Updates(map[string]interface{}{"status": wf.Status, "date_completed": &now}).Error
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next.Status = domain.TaskStatusActive
	next.DateStarted = &now
	if err := tx.Model(&next).Updates(map[string]interface{}{"status": next.Status, "date_started": &now}).Error; err != nil {
		return nil, err
	}
	wf.CurrentTask = next.Number
	if err := tx.Model(wf).Update("current_task", next.Number).Error; err != nil {
		return nil, err
	}
	covered, err := performer.InstantiateFunc(tx, &next, wf)
	if err != nil {
		return nil, err
	}
	return &activation{task: &next, covered: covered}, nil
}

func notifyActivated(ctx context.Context, a *activation) {
	if a == nil || len(a.covered) == 0 {
		return
	}
	recipients, err := notification.RecipientsOfFunc(ctx, a.covered)
	if err != nil {
		logrus.Warnf("resolve recipients of task %d: %v", a.task.ID, err)
		return
	}
	notification.ActiveDispatcher.NotifyNewPerformer(ctx, a.task.ID, recipients)
}
