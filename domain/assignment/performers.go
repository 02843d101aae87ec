package assignment

import (
	"flowdesk/account"
	"flowdesk/bizerror"
	"flowdesk/domain"
	"flowdesk/domain/performer"
	"flowdesk/event"
	"flowdesk/infra/tracing"
	"flowdesk/persistence"
	"flowdesk/session"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/gorm"
)

var (
	CreatePerformerFunc   = CreatePerformer
	DeletePerformerFunc   = DeletePerformer
	CompletePerformerFunc = CompletePerformer

	newRepositoryFunc = func(db *gorm.DB) performer.Repository { return performer.NewRepository(db) }

	validate = validator.New()
)

// Command is a performer change requested on a task.
type Command struct {
	TaskID types.ID         `json:"taskId" validate:"required"`
	Target performer.Target `json:"target"`
}

func CreateUserPerformer(taskID, userID types.ID, s *session.Session) (*domain.TaskPerformer, error) {
	return CreatePerformerFunc(taskID, performer.UserTarget(userID), s)
}

func DeleteUserPerformer(taskID, userID types.ID, s *session.Session) error {
	return DeletePerformerFunc(taskID, performer.UserTarget(userID), s)
}

func CreateGroupPerformer(taskID, groupID types.ID, s *session.Session) (*domain.TaskPerformer, error) {
	return CreatePerformerFunc(taskID, performer.GroupTarget(groupID), s)
}

func DeleteGroupPerformer(taskID, groupID types.ID, s *session.Session) error {
	return DeletePerformerFunc(taskID, performer.GroupTarget(groupID), s)
}

// CreatePerformer adds a user or a group to the performers of an open task. A soft deleted
// row is reactivated, an active one is returned unchanged.
func CreatePerformer(taskID types.ID, target performer.Target, s *session.Session) (p *domain.TaskPerformer, err error) {
	span, ctx := tracing.StartOperation(s.Ctx(), "assignment.CreatePerformer")
	defer func() { tracing.FinishOperation(span, err) }()

	if err := validate.Struct(&Command{TaskID: taskID, Target: target}); err != nil {
		return nil, err
	}

	var fx *effects
	err = persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := prepare(tx, taskID, s)
		if err != nil {
			return err
		}
		if err := m.checkTarget(target); err != nil {
			return err
		}
		fx = m.effects
		if target.IsGroup() {
			p, err = m.createGroup(target.ID)
		} else {
			p, err = m.createUser(target.ID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := fx.flush(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// DeletePerformer removes a user or a group from the performers of an open task. Removing the
// last performer unit is rejected. Users left without any performer path are notified and the
// task is completed when the remaining performers allow it.
func DeletePerformer(taskID types.ID, target performer.Target, s *session.Session) (err error) {
	span, ctx := tracing.StartOperation(s.Ctx(), "assignment.DeletePerformer")
	defer func() { tracing.FinishOperation(span, err) }()

	if err := validate.Struct(&Command{TaskID: taskID, Target: target}); err != nil {
		return err
	}

	var fx *effects
	err = persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := prepare(tx, taskID, s)
		if err != nil {
			return err
		}
		if err := m.checkTarget(target); err != nil {
			return err
		}
		fx = m.effects
		if target.IsGroup() {
			err = m.deleteGroup(target.ID)
		} else {
			err = m.deleteUser(target.ID)
		}
		if err != nil {
			return err
		}
		return m.ensureUnitsLeft()
	})
	if err != nil {
		return err
	}
	return fx.flush(ctx)
}

// CompletePerformer marks the requester done on a task: the requester's own row and every
// group performer the requester belongs to.
func CompletePerformer(taskID types.ID, s *session.Session) (err error) {
	span, ctx := tracing.StartOperation(s.Ctx(), "assignment.CompletePerformer")
	defer func() { tracing.FinishOperation(span, err) }()

	var fx *effects
	err = persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := validateTask(tx, taskID, s)
		if err != nil {
			return err
		}
		fx = m.effects
		return m.complete(s.Identity.ID)
	})
	if err != nil {
		return err
	}
	return fx.flush(ctx)
}

// mutation carries the validated state of one performer change inside its transaction.
type mutation struct {
	tx       *gorm.DB
	repo     performer.Repository
	task     *domain.Task
	workflow *domain.Workflow
	session  *session.Session
	effects  *effects
}

// prepare runs the validation shared by every performer change, in order: workflow state,
// task state, then the rights of the requester.
func prepare(tx *gorm.DB, taskID types.ID, s *session.Session) (*mutation, error) {
	m, err := validateTask(tx, taskID, s)
	if err != nil {
		return nil, err
	}
	allowed, err := m.mayChangePerformers()
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, m.reject(bizerror.ReasonPermissionDenied)
	}
	return m, nil
}

func validateTask(tx *gorm.DB, taskID types.ID, s *session.Session) (*mutation, error) {
	task, err := performer.LockTask(tx, taskID)
	if err != nil {
		return nil, err
	}
	wf, err := performer.LoadWorkflow(tx, task.WorkflowID)
	if err != nil {
		return nil, err
	}
	m := &mutation{tx: tx, repo: newRepositoryFunc(tx), task: task, workflow: wf, session: s,
		effects: &effects{task: task, requesterID: s.Identity.ID}}
	if wf.IsCompleted() {
		return nil, m.reject(bizerror.ReasonWorkflowCompleted)
	}
	if !task.IsOpen() {
		return nil, m.reject(bizerror.ReasonTaskInactive)
	}
	return m, nil
}

func (m *mutation) reject(reason bizerror.Reason) error {
	return bizerror.NewPerformerMutationError(reason, m.task.ID)
}

// mayChangePerformers: superusers, admins of the account, owners of the template (directly or
// through a group) and active performers of the task.
func (m *mutation) mayChangePerformers() (bool, error) {
	s := m.session
	if s.IsSuperuser {
		return true, nil
	}
	if s.AccountID != m.workflow.AccountID {
		return false, nil
	}
	if s.IsAdmin {
		return true, nil
	}

	var owners int
	groupsOfRequester := m.tx.Table("user_group_members").Select("group_id").Where("user_id = ?", s.Identity.ID).SubQuery()
	if err := m.tx.Model(&domain.TemplateOwner{}).
		Where("template_id = ? AND ((type = ? AND user_id = ?) OR (type = ? AND group_id IN ?))", m.workflow.TemplateID,
			domain.OwnerTypeUser, s.Identity.ID, domain.OwnerTypeGroup, groupsOfRequester).
		Count(&owners).Error; err != nil {
		return false, err
	}
	if owners > 0 {
		return true, nil
	}
	return m.isActivePerformer(s.Identity.ID)
}

func (m *mutation) isActivePerformer(userID types.ID) (bool, error) {
	row, err := m.repo.FindByKey(m.task.ID, performer.UserTarget(userID).Key())
	if err != nil {
		return false, err
	}
	return row != nil && row.IsActive(), nil
}

// checkTarget requires an active user or a group of the workflow's account.
func (m *mutation) checkTarget(target performer.Target) error {
	var count int
	var q *gorm.DB
	if target.IsGroup() {
		q = m.tx.Model(&domain.UserGroup{}).Where("id = ? AND account_id = ?", target.ID, m.workflow.AccountID)
	} else {
		q = m.tx.Model(&account.User{}).Where("id = ? AND account_id = ? AND status = ?", target.ID, m.workflow.AccountID, account.UserStatusActive)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return m.reject(bizerror.ReasonTargetNotFound)
	}
	return nil
}

func (m *mutation) createUser(userID types.ID) (*domain.TaskPerformer, error) {
	row, err := m.repo.FindByKey(m.task.ID, performer.UserTarget(userID).Key())
	if err != nil {
		return nil, err
	}
	newlyCovered := false
	switch {
	case row == nil:
		row = &domain.TaskPerformer{TaskID: m.task.ID, WorkflowID: m.task.WorkflowID, Type: domain.PerformerTypeUser,
			UserID: userID, DirectlyStatus: domain.DirectlyStatusCreated}
		if err := m.repo.Create(row); err != nil {
			return nil, err
		}
		newlyCovered = true
	case !row.IsActive():
		reactivate(row)
		if err := m.repo.Save(row); err != nil {
			return nil, err
		}
		newlyCovered = true
	case row.IsGroupDerived():
		// already performing through a group, the row becomes a direct one
		row.SourceGroupID = 0
		row.DirectlyStatus = domain.DirectlyStatusCreated
		if err := m.repo.Save(row); err != nil {
			return nil, err
		}
	default:
		return row, nil
	}

	if _, err := m.repo.UpsertWorkflowMembers(m.workflow.ID, []types.ID{userID}); err != nil {
		return nil, err
	}
	if newlyCovered {
		m.effects.covered = append(m.effects.covered, userID)
	}
	m.record(event.PerformerCreated, event.TargetTypeUser, userID)
	return row, nil
}

func (m *mutation) createGroup(groupID types.ID) (*domain.TaskPerformer, error) {
	row, err := m.repo.FindByKey(m.task.ID, performer.GroupTarget(groupID).Key())
	if err != nil {
		return nil, err
	}
	if row != nil && row.IsActive() {
		return row, nil
	}
	if row == nil {
		row = &domain.TaskPerformer{TaskID: m.task.ID, WorkflowID: m.task.WorkflowID, Type: domain.PerformerTypeGroup,
			GroupID: groupID, DirectlyStatus: domain.DirectlyStatusCreated}
		err = m.repo.Create(row)
	} else {
		reactivate(row)
		err = m.repo.Save(row)
	}
	if err != nil {
		return nil, err
	}

	members, err := m.repo.GroupMemberIDs(groupID)
	if err != nil {
		return nil, err
	}
	for _, uid := range members[groupID] {
		covered, err := performer.Cover(m.repo, m.task, groupID, uid)
		if err != nil {
			return nil, err
		}
		if covered {
			m.effects.covered = append(m.effects.covered, uid)
		}
	}
	if _, err := m.repo.UpsertWorkflowMembers(m.workflow.ID, members[groupID]); err != nil {
		return nil, err
	}
	m.record(event.GroupPerformerCreated, event.TargetTypeGroup, groupID)
	return row, nil
}

func (m *mutation) deleteUser(userID types.ID) error {
	row, err := m.repo.FindByKey(m.task.ID, performer.UserTarget(userID).Key())
	if err != nil {
		return err
	}
	if row == nil || !row.IsUnit() {
		return m.reject(bizerror.ReasonNotAPerformer)
	}
	if err := m.rejectLastUnit(); err != nil {
		return err
	}

	coverage, err := performer.LoadCoverage(m.repo, m.task.ID)
	if err != nil {
		return err
	}
	if groups := coverage.CoveringGroups(userID, 0); len(groups) > 0 {
		// still performing through a group
		row.SourceGroupID = groups[0]
		row.DirectlyStatus = domain.DirectlyStatusNone
	} else {
		row.DirectlyStatus = domain.DirectlyStatusDeleted
		m.effects.orphaned = append(m.effects.orphaned, userID)
	}
	if err := m.repo.Save(row); err != nil {
		return err
	}
	m.effects.checkCompletion = true
	m.record(event.PerformerDeleted, event.TargetTypeUser, userID)
	return nil
}

func (m *mutation) deleteGroup(groupID types.ID) error {
	row, err := m.repo.FindByKey(m.task.ID, performer.GroupTarget(groupID).Key())
	if err != nil {
		return err
	}
	if row == nil || !row.IsActive() {
		return m.reject(bizerror.ReasonNotAPerformer)
	}
	if err := m.rejectLastUnit(); err != nil {
		return err
	}
	row.DirectlyStatus = domain.DirectlyStatusDeleted
	if err := m.repo.Save(row); err != nil {
		return err
	}

	coverage, err := performer.LoadCoverage(m.repo, m.task.ID)
	if err != nil {
		return err
	}
	for _, r := range coverage.Rows {
		if !r.IsGroupDerived() || r.SourceGroupID != groupID {
			continue
		}
		orphaned, err := performer.Uncover(m.repo, coverage, groupID, r.UserID)
		if err != nil {
			return err
		}
		if orphaned {
			m.effects.orphaned = append(m.effects.orphaned, r.UserID)
		}
	}
	m.effects.checkCompletion = true
	m.record(event.GroupPerformerDeleted, event.TargetTypeGroup, groupID)
	return nil
}

// rejectLastUnit is the check made before any write, ensureUnitsLeft repeats it on the
// written state.
func (m *mutation) rejectLastUnit() error {
	count, err := m.repo.CountActiveUnits(m.task.ID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return m.reject(bizerror.ReasonLastPerformer)
	}
	return nil
}

func (m *mutation) ensureUnitsLeft() error {
	count, err := m.repo.CountActiveUnits(m.task.ID)
	if err != nil {
		return err
	}
	if count == 0 {
		return m.reject(bizerror.ReasonLastPerformer)
	}
	return nil
}

func (m *mutation) complete(userID types.ID) error {
	coverage, err := performer.LoadCoverage(m.repo, m.task.ID)
	if err != nil {
		return err
	}
	now := time.Now()
	// a derived row whose group no longer holds the user does not count towards completion
	unitMarked := false
	for i := range coverage.Rows {
		row := &coverage.Rows[i]
		own := row.Type == domain.PerformerTypeUser && row.UserID == userID
		viaGroup := row.Type == domain.PerformerTypeGroup && contains(coverage.Members[row.GroupID], userID)
		if !own && !viaGroup {
			continue
		}
		if viaGroup || !row.IsGroupDerived() {
			unitMarked = true
		}
		if row.IsCompleted {
			continue
		}
		row.IsCompleted = true
		row.DateCompleted = &now
		if err := m.repo.Save(row); err != nil {
			return err
		}
	}
	if !unitMarked {
		return m.reject(bizerror.ReasonNotAPerformer)
	}
	m.effects.checkCompletion = true
	m.record(event.PerformerCompleted, event.TargetTypeUser, userID)
	return nil
}

func (m *mutation) record(name, targetType string, targetID types.ID) {
	m.effects.events = append(m.effects.events, event.NewEvent(name, m.session,
		event.Target{Type: targetType, ID: targetID}, m.task.ID, m.workflow.ID))
}

func reactivate(row *domain.TaskPerformer) {
	row.DirectlyStatus = domain.DirectlyStatusCreated
	row.SourceGroupID = 0
	row.IsCompleted = false
	row.DateCompleted = nil
}

func contains(ids []types.ID, id types.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
