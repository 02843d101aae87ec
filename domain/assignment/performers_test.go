package assignment_test

import (
	"context"
	"errors"
	"flowdesk/bizerror"
	"flowdesk/domain"
	"flowdesk/domain/assignment"
	"flowdesk/domain/completion"
	"flowdesk/domain/performer"
	"flowdesk/notification"
	"flowdesk/persistence"
	"flowdesk/testinfra"
	"testing"

	"github.com/fundwit/go-commons/types"
	"github.com/go-playground/validator/v10"
	. "github.com/onsi/gomega"
)

type completionCall struct {
	TaskID types.ID
	UserID types.ID
}

// recordCompletions replaces the workflow advancement of the completion gate.
func recordCompletions() (*[]completionCall, func()) {
	origin := completion.CompleteTaskFunc
	calls := &[]completionCall{}
	completion.CompleteTaskFunc = func(ctx context.Context, task *domain.Task, userID types.ID) error {
		*calls = append(*calls, completionCall{task.ID, userID})
		return nil
	}
	return calls, func() { completion.CompleteTaskFunc = origin }
}

func activeRows(f *testinfra.Fixture, taskID types.ID) []domain.TaskPerformer {
	var active []domain.TaskPerformer
	for _, r := range f.PerformersOfTask(taskID) {
		if r.IsActive() {
			active = append(active, r)
		}
	}
	return active
}

func TestPerformerValidation(t *testing.T) {
	RegisterTestingT(t)

	testDatabase := testinfra.StartTestDatabase("assignment")
	defer testinfra.StopTestDatabase(testDatabase)
	persistence.ActiveDataSourceManager = testDatabase.DS
	f := testinfra.NewFixture(testDatabase)

	_, restore := testinfra.RecordNotifications()
	defer restore()

	a := f.Account("acme")
	admin := f.User(a.ID, "admin", testinfra.Admin)
	owner, ownerViaGroup, plain, performerUser, target := f.User(a.ID, "owner"), f.User(a.ID, "grouped owner"),
		f.User(a.ID, "plain"), f.User(a.ID, "performer"), f.User(a.ID, "target")
	owners := f.Group(a.ID, "owners", ownerViaGroup.ID)
	tpl := f.Template(a.ID, "tpl")
	f.TemplateOwner(tpl.ID, domain.OwnerTypeUser, owner.ID)
	f.TemplateOwner(tpl.ID, domain.OwnerTypeGroup, owners.ID)

	activeTask := func() *domain.Task {
		w := f.Workflow(a.ID, tpl.ID, admin.ID)
		task := f.Task(w, 1, domain.TaskStatusActive, false)
		f.UserPerformer(task, performerUser.ID)
		return task
	}

	t.Run("should validate command", func(t *testing.T) {
		_, err := assignment.CreatePerformer(0, performer.UserTarget(target.ID), testinfra.BuildSession(admin))
		var validationErrors validator.ValidationErrors
		Expect(errors.As(err, &validationErrors)).To(BeTrue())

		_, err = assignment.CreatePerformer(1, performer.Target{Kind: domain.PerformerTypeField, ID: target.ID}, testinfra.BuildSession(admin))
		Expect(errors.As(err, &validationErrors)).To(BeTrue())
	})

	t.Run("should return not found for unknown task", func(t *testing.T) {
		_, err := assignment.CreateUserPerformer(testinfra.NextID(), target.ID, testinfra.BuildSession(admin))
		Expect(err).To(Equal(bizerror.ErrNotFound))
	})

	t.Run("should reject changes on completed workflow first", func(t *testing.T) {
		task := activeTask()
		Expect(f.DB.Model(&domain.Workflow{}).Where("id = ?", task.WorkflowID).Update("status", domain.WorkflowStatusDone).Error).To(BeNil())
		Expect(f.DB.Model(task).Update("status", domain.TaskStatusCompleted).Error).To(BeNil())

		_, err := assignment.CreateUserPerformer(task.ID, target.ID, testinfra.BuildSession(plain))
		Expect(bizerror.IsReason(err, bizerror.ReasonWorkflowCompleted)).To(BeTrue())
	})

	t.Run("should reject changes on inactive task", func(t *testing.T) {
		w := f.Workflow(a.ID, tpl.ID, admin.ID)
		pending := f.Task(w, 2, domain.TaskStatusPending, false)
		_, err := assignment.CreateUserPerformer(pending.ID, target.ID, testinfra.BuildSession(admin))
		Expect(bizerror.IsReason(err, bizerror.ReasonTaskInactive)).To(BeTrue())
		Expect(errors.Is(err, bizerror.NewPerformerMutationError(bizerror.ReasonTaskInactive, 0))).To(BeTrue())
	})

	t.Run("should deny requesters without rights", func(t *testing.T) {
		task := activeTask()
		_, err := assignment.CreateUserPerformer(task.ID, target.ID, testinfra.BuildSession(plain))
		Expect(bizerror.IsReason(err, bizerror.ReasonPermissionDenied)).To(BeTrue())
		Expect(bizerror.Respond(err).Code).To(Equal("performer.permission_denied"))

		other := f.Account("other")
		stranger := f.User(other.ID, "stranger", testinfra.Admin)
		_, err = assignment.CreateUserPerformer(task.ID, target.ID, testinfra.BuildSession(stranger))
		Expect(bizerror.IsReason(err, bizerror.ReasonPermissionDenied)).To(BeTrue())
		Expect(len(activeRows(f, task.ID))).To(Equal(1))
	})

	t.Run("should allow admins, template owners and performers", func(t *testing.T) {
		for _, requester := range []*struct{ id types.ID }{{admin.ID}, {owner.ID}, {ownerViaGroup.ID}, {performerUser.ID}} {
			task := activeTask()
			s := testinfra.BuildSession(f.ReloadUser(requester.id))
			_, err := assignment.CreateUserPerformer(task.ID, target.ID, s)
			Expect(err).To(BeNil())
			Expect(len(activeRows(f, task.ID))).To(Equal(2))
		}

		task := activeTask()
		s := testinfra.BuildSession(plain)
		s.IsSuperuser = true
		_, err := assignment.CreateUserPerformer(task.ID, target.ID, s)
		Expect(err).To(BeNil())
	})

	t.Run("should reject targets outside of the account", func(t *testing.T) {
		task := activeTask()
		other := f.Account("other")
		stranger := f.User(other.ID, "stranger")
		strangers := f.Group(other.ID, "strangers")
		inactive := f.User(a.ID, "inactive", testinfra.Inactive)

		for _, target := range []performer.Target{performer.UserTarget(stranger.ID), performer.GroupTarget(strangers.ID),
			performer.UserTarget(inactive.ID), performer.UserTarget(testinfra.NextID())} {
			_, err := assignment.CreatePerformer(task.ID, target, testinfra.BuildSession(admin))
			Expect(bizerror.IsReason(err, bizerror.ReasonTargetNotFound)).To(BeTrue())
		}
	})
}

func TestUserPerformers(t *testing.T) {
	RegisterTestingT(t)

	testDatabase := testinfra.StartTestDatabase("assignment")
	defer testinfra.StopTestDatabase(testDatabase)
	persistence.ActiveDataSourceManager = testDatabase.DS
	f := testinfra.NewFixture(testDatabase)

	notices, restore := testinfra.RecordNotifications()
	defer restore()
	events, restoreEvents := testinfra.RecordEvents()
	defer restoreEvents()
	completions, restoreCompletions := recordCompletions()
	defer restoreCompletions()

	a := f.Account("acme")
	admin, ua, ub := f.User(a.ID, "admin", testinfra.Admin), f.User(a.ID, "a"), f.User(a.ID, "b")
	tpl := f.Template(a.ID, "tpl")
	adminSession := testinfra.BuildSession(admin)

	newTask := func(status domain.TaskStatus) *domain.Task {
		w := f.Workflow(a.ID, tpl.ID, admin.ID)
		return f.Task(w, 1, status, false)
	}

	t.Run("should reject deletion of the last performer", func(t *testing.T) {
		task := newTask(domain.TaskStatusActive)
		only := f.UserPerformer(task, ua.ID)

		err := assignment.DeleteUserPerformer(task.ID, ua.ID, adminSession)
		Expect(bizerror.IsReason(err, bizerror.ReasonLastPerformer)).To(BeTrue())
		Expect(len(f.PerformersOfTask(task.ID))).To(Equal(1))
		Expect(f.ReloadPerformer(only.ID).DirectlyStatus).To(Equal(domain.DirectlyStatusNone))
	})

	t.Run("should create performer once and notify it", func(t *testing.T) {
		notices.Reset()
		events.Reset()
		task := newTask(domain.TaskStatusActive)
		f.UserPerformer(task, ua.ID)

		first, err := assignment.CreateUserPerformer(task.ID, ub.ID, adminSession)
		Expect(err).To(BeNil())
		Expect(first.DirectlyStatus).To(Equal(domain.DirectlyStatusCreated))
		second, err := assignment.CreateUserPerformer(task.ID, ub.ID, adminSession)
		Expect(err).To(BeNil())
		Expect(second.ID).To(Equal(first.ID))

		Expect(len(activeRows(f, task.ID))).To(Equal(2))
		Expect(f.MemberIDs(task.WorkflowID)).To(ContainElement(ub.ID))
		Expect(notices.Calls()).To(Equal([]testinfra.NotificationCall{
			{Kind: notification.KindNewPerformer, TaskID: task.ID, UserIDs: []types.ID{ub.ID}}}))
		Expect(events.Names()).To(Equal([]string{"performer.created"}))
	})

	t.Run("should reuse the deleted row on re-creation", func(t *testing.T) {
		task := newTask(domain.TaskStatusActive)
		f.UserPerformer(task, ua.ID)
		created, err := assignment.CreateUserPerformer(task.ID, ub.ID, adminSession)
		Expect(err).To(BeNil())

		Expect(assignment.DeleteUserPerformer(task.ID, ub.ID, adminSession)).To(BeNil())
		Expect(f.ReloadPerformer(created.ID).DirectlyStatus).To(Equal(domain.DirectlyStatusDeleted))

		again, err := assignment.CreateUserPerformer(task.ID, ub.ID, adminSession)
		Expect(err).To(BeNil())
		Expect(again.ID).To(Equal(created.ID))
		Expect(f.ReloadPerformer(created.ID).DirectlyStatus).To(Equal(domain.DirectlyStatusCreated))
		Expect(len(f.PerformersOfTask(task.ID))).To(Equal(2))
	})

	t.Run("should send self assigned signal to the requester", func(t *testing.T) {
		notices.Reset()
		task := newTask(domain.TaskStatusActive)
		f.UserPerformer(task, ua.ID)

		_, err := assignment.CreateUserPerformer(task.ID, ub.ID, testinfra.BuildSession(ua))
		Expect(err).To(BeNil())
		_, err = assignment.CreateUserPerformer(task.ID, admin.ID, adminSession)
		Expect(err).To(BeNil())
		Expect(notices.Of(notification.KindSelfAssigned)).To(Equal([]testinfra.NotificationCall{
			{Kind: notification.KindSelfAssigned, TaskID: task.ID, UserIDs: []types.ID{admin.ID}}}))
		Expect(len(notices.Of(notification.KindNewPerformer))).To(Equal(1))
	})

	t.Run("should not notify performers of a delayed task", func(t *testing.T) {
		notices.Reset()
		task := newTask(domain.TaskStatusDelayed)
		f.UserPerformer(task, ua.ID)

		_, err := assignment.CreateUserPerformer(task.ID, ub.ID, adminSession)
		Expect(err).To(BeNil())
		Expect(notices.Calls()).To(BeEmpty())
	})

	t.Run("should complete task with remaining completed performer after deletion", func(t *testing.T) {
		*completions = nil
		notices.Reset()
		task := newTask(domain.TaskStatusActive)
		f.UserPerformer(task, ua.ID)
		f.UserPerformer(task, ub.ID, testinfra.Completed)

		Expect(assignment.DeleteUserPerformer(task.ID, ua.ID, adminSession)).To(BeNil())
		Expect(*completions).To(Equal([]completionCall{{task.ID, ub.ID}}))
		Expect(notices.Of(notification.KindRemovedPerformer)).To(Equal([]testinfra.NotificationCall{
			{Kind: notification.KindRemovedPerformer, TaskID: task.ID, UserIDs: []types.ID{ua.ID}}}))
	})

	t.Run("should reject deleting users that are no performer", func(t *testing.T) {
		task := newTask(domain.TaskStatusActive)
		f.UserPerformer(task, ua.ID)
		err := assignment.DeleteUserPerformer(task.ID, ub.ID, adminSession)
		Expect(bizerror.IsReason(err, bizerror.ReasonNotAPerformer)).To(BeTrue())
	})

	t.Run("should complete the requester", func(t *testing.T) {
		*completions = nil
		task := newTask(domain.TaskStatusActive)
		f.UserPerformer(task, ua.ID)
		rowB := f.UserPerformer(task, ub.ID)

		err := assignment.CompletePerformer(task.ID, testinfra.BuildSession(admin))
		Expect(bizerror.IsReason(err, bizerror.ReasonNotAPerformer)).To(BeTrue())

		Expect(assignment.CompletePerformer(task.ID, testinfra.BuildSession(ub))).To(BeNil())
		Expect(f.ReloadPerformer(rowB.ID).IsCompleted).To(BeTrue())
		Expect(f.ReloadPerformer(rowB.ID).DateCompleted).ToNot(BeNil())
		Expect(*completions).To(Equal([]completionCall{{task.ID, ub.ID}}))
	})
}

func TestGroupPerformers(t *testing.T) {
	RegisterTestingT(t)

	testDatabase := testinfra.StartTestDatabase("assignment")
	defer testinfra.StopTestDatabase(testDatabase)
	persistence.ActiveDataSourceManager = testDatabase.DS
	f := testinfra.NewFixture(testDatabase)

	notices, restore := testinfra.RecordNotifications()
	defer restore()
	completions, restoreCompletions := recordCompletions()
	defer restoreCompletions()

	a := f.Account("acme")
	admin, u1, u2, u3 := f.User(a.ID, "admin", testinfra.Admin), f.User(a.ID, "u1"), f.User(a.ID, "u2"), f.User(a.ID, "u3")
	g1 := f.Group(a.ID, "g1", u1.ID, u2.ID)
	g2 := f.Group(a.ID, "g2", u2.ID, u3.ID)
	tpl := f.Template(a.ID, "tpl")
	adminSession := testinfra.BuildSession(admin)

	newTask := func() *domain.Task {
		w := f.Workflow(a.ID, tpl.ID, admin.ID)
		return f.Task(w, 1, domain.TaskStatusActive, false)
	}

	t.Run("should cover members not covered by another path", func(t *testing.T) {
		notices.Reset()
		task := newTask()
		direct := f.UserPerformer(task, u1.ID)

		row, err := assignment.CreateGroupPerformer(task.ID, g1.ID, adminSession)
		Expect(err).To(BeNil())
		Expect(row.Type).To(Equal(domain.PerformerTypeGroup))
		Expect(row.DirectlyStatus).To(Equal(domain.DirectlyStatusCreated))

		rows := activeRows(f, task.ID)
		Expect(len(rows)).To(Equal(3))
		Expect(f.ReloadPerformer(direct.ID).SourceGroupID).To(BeZero())
		covered, err := performer.NewRepository(f.DB).FindByKey(task.ID, performer.UserTarget(u2.ID).Key())
		Expect(err).To(BeNil())
		Expect(covered.SourceGroupID).To(Equal(g1.ID))
		Expect(f.MemberIDs(task.WorkflowID)).To(ConsistOf(u1.ID, u2.ID))
		Expect(notices.Calls()).To(Equal([]testinfra.NotificationCall{
			{Kind: notification.KindNewPerformer, TaskID: task.ID, UserIDs: []types.ID{u2.ID}}}))

		again, err := assignment.CreateGroupPerformer(task.ID, g1.ID, adminSession)
		Expect(err).To(BeNil())
		Expect(again.ID).To(Equal(row.ID))
		Expect(len(f.PerformersOfTask(task.ID))).To(Equal(3))
	})

	t.Run("should notify only orphaned members on group deletion", func(t *testing.T) {
		task := newTask()
		f.UserPerformer(task, admin.ID)
		_, err := assignment.CreateGroupPerformer(task.ID, g1.ID, adminSession)
		Expect(err).To(BeNil())
		_, err = assignment.CreateGroupPerformer(task.ID, g2.ID, adminSession)
		Expect(err).To(BeNil())
		notices.Reset()

		Expect(assignment.DeleteGroupPerformer(task.ID, g1.ID, adminSession)).To(BeNil())
		Expect(notices.Of(notification.KindRemovedPerformer)).To(Equal([]testinfra.NotificationCall{
			{Kind: notification.KindRemovedPerformer, TaskID: task.ID, UserIDs: []types.ID{u1.ID}}}))

		repo := performer.NewRepository(f.DB)
		row2, err := repo.FindByKey(task.ID, performer.UserTarget(u2.ID).Key())
		Expect(err).To(BeNil())
		Expect(row2.IsActive()).To(BeTrue())
		Expect(row2.SourceGroupID).To(Equal(g2.ID))
		row1, err := repo.FindByKey(task.ID, performer.UserTarget(u1.ID).Key())
		Expect(err).To(BeNil())
		Expect(row1.IsActive()).To(BeFalse())
	})

	t.Run("should reject deleting the only group", func(t *testing.T) {
		task := newTask()
		_, err := assignment.CreateGroupPerformer(task.ID, g1.ID, adminSession)
		Expect(err).To(BeNil())
		err = assignment.DeleteGroupPerformer(task.ID, g1.ID, adminSession)
		Expect(bizerror.IsReason(err, bizerror.ReasonLastPerformer)).To(BeTrue())
		Expect(len(activeRows(f, task.ID))).To(Equal(3))
	})

	t.Run("should keep deleted direct user performing through a group", func(t *testing.T) {
		notices.Reset()
		task := newTask()
		direct := f.UserPerformer(task, u1.ID)
		_, err := assignment.CreateGroupPerformer(task.ID, g1.ID, adminSession)
		Expect(err).To(BeNil())

		Expect(assignment.DeleteUserPerformer(task.ID, u1.ID, adminSession)).To(BeNil())
		row := f.ReloadPerformer(direct.ID)
		Expect(row.IsActive()).To(BeTrue())
		Expect(row.SourceGroupID).To(Equal(g1.ID))
		Expect(notices.Of(notification.KindRemovedPerformer)).To(BeEmpty())
	})

	t.Run("should complete with a non group completer after group deletion", func(t *testing.T) {
		*completions = nil
		task := newTask()
		f.UserPerformer(task, u3.ID, testinfra.Completed)
		f.GroupPerformer(task, g1.ID, testinfra.Completed)
		f.GroupDerived(task, u1.ID, g1.ID, testinfra.Completed)
		f.GroupPerformer(task, g2.ID)
		f.GroupDerived(task, u2.ID, g2.ID)

		Expect(assignment.DeleteGroupPerformer(task.ID, g2.ID, adminSession)).To(BeNil())
		Expect(*completions).To(Equal([]completionCall{{task.ID, u3.ID}}))
	})

	t.Run("should complete group performer through a member", func(t *testing.T) {
		*completions = nil
		task := newTask()
		f.UserPerformer(task, admin.ID)
		groupRow := f.GroupPerformer(task, g1.ID)
		derived := f.GroupDerived(task, u1.ID, g1.ID)

		Expect(assignment.CompletePerformer(task.ID, testinfra.BuildSession(u1))).To(BeNil())
		Expect(f.ReloadPerformer(groupRow.ID).IsCompleted).To(BeTrue())
		Expect(f.ReloadPerformer(derived.ID).IsCompleted).To(BeTrue())
		Expect(*completions).To(Equal([]completionCall{{task.ID, u1.ID}}))
	})

	t.Run("should reject completion through a row of a group the user left", func(t *testing.T) {
		*completions = nil
		task := newTask()
		f.UserPerformer(task, admin.ID)
		f.GroupPerformer(task, g2.ID)
		stale := f.GroupDerived(task, u1.ID, g2.ID)

		err := assignment.CompletePerformer(task.ID, testinfra.BuildSession(u1))
		Expect(bizerror.IsReason(err, bizerror.ReasonNotAPerformer)).To(BeTrue())
		Expect(f.ReloadPerformer(stale.ID).IsCompleted).To(BeFalse())
		Expect(*completions).To(BeEmpty())
	})
}
