package performer_test

import (
	"errors"
	"flowdesk/domain"
	"flowdesk/domain/performer"
	"flowdesk/testinfra"
	"testing"

	"github.com/fundwit/go-commons/types"
	. "github.com/onsi/gomega"
)

func TestInstantiate(t *testing.T) {
	RegisterTestingT(t)

	testDatabase := testinfra.StartTestDatabase("performer")
	defer testinfra.StopTestDatabase(testDatabase)
	f := testinfra.NewFixture(testDatabase)

	a := f.Account("acme")
	starter, u1, u2, u3, reviewer := f.User(a.ID, "starter"), f.User(a.ID, "u1"), f.User(a.ID, "u2"), f.User(a.ID, "u3"), f.User(a.ID, "reviewer")
	g1 := f.Group(a.ID, "g1", u1.ID, u2.ID)
	g2 := f.Group(a.ID, "g2", u2.ID, u3.ID)
	empty := f.Group(a.ID, "empty")
	tpl := f.Template(a.ID, "tpl")

	t.Run("should materialize users, groups and group coverage once per user", func(t *testing.T) {
		tt := f.TaskTemplate(tpl.ID, 1, false)
		f.RawPerformer(tt, domain.PerformerTypeUser, u1.ID, "")
		f.RawPerformer(tt, domain.PerformerTypeGroup, g1.ID, "")
		f.RawPerformer(tt, domain.PerformerTypeGroup, g2.ID, "")
		f.RawPerformer(tt, domain.PerformerTypeField, 0, "reviewer")
		f.RawPerformer(tt, domain.PerformerTypeWorkflowStarter, 0, "")

		w := f.Workflow(a.ID, tpl.ID, starter.ID)
		Expect(f.DB.Create(&domain.FieldValue{ID: testinfra.NextID(), WorkflowID: w.ID, APIName: "reviewer",
			Type: domain.FieldTypeUser, UserID: reviewer.ID}).Error).To(BeNil())
		task := &domain.Task{ID: testinfra.NextID(), WorkflowID: w.ID, TaskTemplateID: tt.ID, Number: 1, Status: domain.TaskStatusActive}
		Expect(f.DB.Create(task).Error).To(BeNil())

		covered, err := performer.Instantiate(f.DB, task, w)
		Expect(err).To(BeNil())
		Expect(covered).To(ConsistOf(starter.ID, u1.ID, u2.ID, u3.ID, reviewer.ID))

		rows := f.PerformersOfTask(task.ID)
		type row struct {
			Type   domain.PerformerType
			Target types.ID
			Source types.ID
		}
		var got []row
		for _, r := range rows {
			got = append(got, row{r.Type, r.TargetID(), r.SourceGroupID})
		}
		Expect(got).To(ConsistOf(
			row{domain.PerformerTypeUser, u1.ID, 0},
			row{domain.PerformerTypeUser, reviewer.ID, 0},
			row{domain.PerformerTypeUser, starter.ID, 0},
			row{domain.PerformerTypeGroup, g1.ID, 0},
			row{domain.PerformerTypeGroup, g2.ID, 0},
			row{domain.PerformerTypeUser, u2.ID, g1.ID},
			row{domain.PerformerTypeUser, u3.ID, g2.ID},
		))
		Expect(f.MemberIDs(w.ID)).To(ConsistOf(starter.ID, u1.ID, u2.ID, u3.ID, reviewer.ID))

		// a second run changes nothing
		_, err = performer.Instantiate(f.DB, task, w)
		Expect(err).To(BeNil())
		Expect(len(f.PerformersOfTask(task.ID))).To(Equal(len(rows)))
	})

	t.Run("should fall back to the starter and keep the empty group", func(t *testing.T) {
		tt := f.TaskTemplate(tpl.ID, 2, false)
		f.RawPerformer(tt, domain.PerformerTypeGroup, empty.ID, "")
		f.RawPerformer(tt, domain.PerformerTypeField, 0, "missing")
		w := f.Workflow(a.ID, tpl.ID, starter.ID)
		task := &domain.Task{ID: testinfra.NextID(), WorkflowID: w.ID, TaskTemplateID: tt.ID, Number: 2, Status: domain.TaskStatusActive}
		Expect(f.DB.Create(task).Error).To(BeNil())

		covered, err := performer.Instantiate(f.DB, task, w)
		Expect(err).To(BeNil())
		Expect(covered).To(Equal([]types.ID{starter.ID}))
		rows := f.PerformersOfTask(task.ID)
		Expect(len(rows)).To(Equal(2))
		for _, r := range rows {
			Expect(r.IsActive()).To(BeTrue())
			Expect(r.SourceGroupID).To(BeZero())
			if r.Type == domain.PerformerTypeGroup {
				Expect(r.GroupID).To(Equal(empty.ID))
			} else {
				Expect(r.UserID).To(Equal(starter.ID))
			}
		}
	})

	t.Run("should fail when only empty groups resolve and the starter is unknown", func(t *testing.T) {
		tt := f.TaskTemplate(tpl.ID, 4, false)
		f.RawPerformer(tt, domain.PerformerTypeGroup, empty.ID, "")
		w := f.Workflow(a.ID, tpl.ID, 0)
		task := &domain.Task{ID: testinfra.NextID(), WorkflowID: w.ID, TaskTemplateID: tt.ID, Number: 4, Status: domain.TaskStatusActive}

		_, err := performer.Instantiate(f.DB, task, w)
		Expect(errors.Is(err, domain.ErrNoPerformers)).To(BeTrue())
	})

	t.Run("should fail when nobody can be resolved", func(t *testing.T) {
		tt := f.TaskTemplate(tpl.ID, 3, false)
		w := f.Workflow(a.ID, tpl.ID, 0)
		task := &domain.Task{ID: testinfra.NextID(), WorkflowID: w.ID, TaskTemplateID: tt.ID, Number: 3, Status: domain.TaskStatusActive}

		_, err := performer.Instantiate(f.DB, task, w)
		Expect(errors.Is(err, domain.ErrNoPerformers)).To(BeTrue())
	})
}

func TestCoverage(t *testing.T) {
	RegisterTestingT(t)

	testDatabase := testinfra.StartTestDatabase("performer")
	defer testinfra.StopTestDatabase(testDatabase)
	f := testinfra.NewFixture(testDatabase)

	a := f.Account("acme")
	u1, u2, u3 := f.User(a.ID, "u1"), f.User(a.ID, "u2"), f.User(a.ID, "u3")
	g1 := f.Group(a.ID, "g1", u1.ID, u2.ID, u3.ID)
	g2 := f.Group(a.ID, "g2", u2.ID)
	w := f.Workflow(a.ID, 0, u1.ID)
	task := f.Task(w, 1, domain.TaskStatusActive, false)
	f.UserPerformer(task, u1.ID)
	f.GroupPerformer(task, g1.ID)
	f.GroupPerformer(task, g2.ID)
	d2 := f.GroupDerived(task, u2.ID, g1.ID)
	d3 := f.GroupDerived(task, u3.ID, g1.ID)

	repo := performer.NewRepository(f.DB)
	coverage, err := performer.LoadCoverage(repo, task.ID)
	Expect(err).To(BeNil())

	t.Run("should describe paths", func(t *testing.T) {
		Expect(len(coverage.Units())).To(Equal(3))
		Expect(coverage.HasDirectUser(u1.ID)).To(BeTrue())
		Expect(coverage.HasDirectUser(u2.ID)).To(BeFalse())
		Expect(coverage.CoveringGroups(u2.ID, 0)).To(Equal([]types.ID{g1.ID, g2.ID}))
		Expect(coverage.CoveringGroups(u2.ID, g1.ID)).To(Equal([]types.ID{g2.ID}))
		Expect(coverage.IsCovered(u3.ID, g1.ID)).To(BeFalse())
		Expect(coverage.IsCovered(u1.ID, g1.ID)).To(BeTrue())
	})

	t.Run("uncover should move users to another group or orphan them", func(t *testing.T) {
		orphaned, err := performer.Uncover(repo, coverage, g1.ID, u2.ID)
		Expect(err).To(BeNil())
		Expect(orphaned).To(BeFalse())
		Expect(f.ReloadPerformer(d2.ID).SourceGroupID).To(Equal(g2.ID))

		orphaned, err = performer.Uncover(repo, coverage, g1.ID, u3.ID)
		Expect(err).To(BeNil())
		Expect(orphaned).To(BeTrue())
		Expect(f.ReloadPerformer(d3.ID).IsActive()).To(BeFalse())

		// direct rows are never touched
		orphaned, err = performer.Uncover(repo, coverage, g1.ID, u1.ID)
		Expect(err).To(BeNil())
		Expect(orphaned).To(BeFalse())
	})

	t.Run("cover should reactivate rows and skip covered users", func(t *testing.T) {
		covered, err := performer.Cover(repo, task, g1.ID, u3.ID)
		Expect(err).To(BeNil())
		Expect(covered).To(BeTrue())
		row := f.ReloadPerformer(d3.ID)
		Expect(row.IsActive()).To(BeTrue())
		Expect(row.SourceGroupID).To(Equal(g1.ID))

		covered, err = performer.Cover(repo, task, g1.ID, u1.ID)
		Expect(err).To(BeNil())
		Expect(covered).To(BeFalse())
		Expect(len(f.PerformersOfTask(task.ID))).To(Equal(5))
	})

	t.Run("cover should drop the completion of a reactivated row", func(t *testing.T) {
		u4 := f.User(a.ID, "u4")
		stale := f.GroupDerived(task, u4.ID, g2.ID, testinfra.Completed, testinfra.Deleted)

		covered, err := performer.Cover(repo, task, g1.ID, u4.ID)
		Expect(err).To(BeNil())
		Expect(covered).To(BeTrue())
		row := f.ReloadPerformer(stale.ID)
		Expect(row.IsActive()).To(BeTrue())
		Expect(row.SourceGroupID).To(Equal(g1.ID))
		Expect(row.IsCompleted).To(BeFalse())
		Expect(row.DateCompleted).To(BeNil())
	})
}
