package performer_test

import (
	"flowdesk/domain"
	"flowdesk/domain/performer"
	"testing"

	"github.com/fundwit/go-commons/types"
	. "github.com/onsi/gomega"
)

func userKey(id types.ID) performer.Key {
	return performer.Key{Type: domain.PerformerTypeUser, TargetID: id}
}

func TestResolveFromTemplate(t *testing.T) {
	RegisterTestingT(t)

	rules := []domain.RawPerformerTemplate{
		{Type: domain.PerformerTypeUser, UserID: 1},
		{Type: domain.PerformerTypeGroup, GroupID: 100},
		{Type: domain.PerformerTypeGroup, GroupID: 200},
		{Type: domain.PerformerTypeField, FieldAPIName: "reviewer"},
		{Type: domain.PerformerTypeField, FieldAPIName: "unknown"},
		{Type: domain.PerformerTypeWorkflowStarter},
	}
	groups := performer.GroupSnapshot{100: {2, 3}, 200: {3, 1}}
	fields := performer.FieldSnapshot{"reviewer": 4}

	t.Run("should resolve every rule kind to users", func(t *testing.T) {
		keys := performer.ResolveFromTemplate(rules, groups, fields, 5)
		Expect(keys.Sorted()).To(Equal([]performer.Key{userKey(1), userKey(2), userKey(3), userKey(4), userKey(5)}))
	})

	t.Run("should be idempotent and collapse duplicates", func(t *testing.T) {
		first := performer.ResolveFromTemplate(rules, groups, fields, 5)
		second := performer.ResolveFromTemplate(append(rules, rules...), groups, fields, 5)
		Expect(second).To(Equal(first))
	})

	t.Run("unknown starter contributes nothing", func(t *testing.T) {
		keys := performer.ResolveFromTemplate([]domain.RawPerformerTemplate{{Type: domain.PerformerTypeWorkflowStarter}}, nil, nil, 0)
		Expect(keys).To(BeEmpty())
	})

	t.Run("plan should keep group structure including empty groups", func(t *testing.T) {
		plan := performer.PlanFromTemplate(append(rules, domain.RawPerformerTemplate{Type: domain.PerformerTypeGroup, GroupID: 300}),
			groups, fields, 5)
		Expect(plan.Users).To(Equal([]types.ID{1, 4, 5}))
		Expect(plan.Groups).To(Equal([]types.ID{100, 200, 300}))
		Expect(plan.Members).To(Equal(performer.GroupSnapshot{100: {2, 3}, 200: {1, 3}}))
		Expect(plan.IsEmpty()).To(BeFalse())
		Expect(performer.PlanFromTemplate(nil, nil, nil, 0).IsEmpty()).To(BeTrue())

		onlyEmpty := performer.PlanFromTemplate([]domain.RawPerformerTemplate{{Type: domain.PerformerTypeGroup, GroupID: 300}}, groups, fields, 0)
		Expect(onlyEmpty.Groups).To(Equal([]types.ID{300}))
		Expect(onlyEmpty.IsEmpty()).To(BeTrue())
	})
}

func TestTarget(t *testing.T) {
	RegisterTestingT(t)

	Expect(performer.UserTarget(1).Key()).To(Equal(userKey(1)))
	Expect(performer.GroupTarget(2).Key()).To(Equal(performer.Key{Type: domain.PerformerTypeGroup, TargetID: 2}))
	Expect(performer.GroupTarget(2).IsGroup()).To(BeTrue())
	Expect(performer.UserTarget(2).IsGroup()).To(BeFalse())

	row := domain.TaskPerformer{Type: domain.PerformerTypeGroup, GroupID: 9}
	Expect(performer.KeyOf(&row)).To(Equal(performer.Key{Type: domain.PerformerTypeGroup, TargetID: 9}))
}
