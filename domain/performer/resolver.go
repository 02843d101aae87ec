package performer

import (
	"flowdesk/domain"

	"github.com/fundwit/go-commons/types"
)

// GroupSnapshot maps group ids to the user ids of their members at resolution time.
type GroupSnapshot map[types.ID][]types.ID

// FieldSnapshot maps api names of user typed workflow fields to the user id they hold.
type FieldSnapshot map[string]types.ID

// Plan is the performer set of a template task with its group structure kept.
type Plan struct {
	Users   []types.ID
	Groups  []types.ID
	Members GroupSnapshot
}

// IsEmpty reports whether the plan resolves to nobody. Groups without members still count as
// empty, their rows only start covering users once members join.
func (p Plan) IsEmpty() bool {
	if len(p.Users) > 0 {
		return false
	}
	for _, g := range p.Groups {
		if len(p.Members[g]) > 0 {
			return false
		}
	}
	return true
}

// ResolveCurrent returns the keys of the active performer rows of a task.
func ResolveCurrent(repo Repository, taskID types.ID) (KeySet, error) {
	rows, err := repo.FindActiveByTask(taskID)
	if err != nil {
		return nil, err
	}
	keys := KeySet{}
	for i := range rows {
		keys.Add(KeyOf(&rows[i]))
	}
	return keys, nil
}

// PlanFromTemplate expands raw rules. A starter id of 0 means the starter is not known yet.
// Groups without members are kept so that users joining them later are covered.
func PlanFromTemplate(rules []domain.RawPerformerTemplate, groups GroupSnapshot, fields FieldSnapshot, starterID types.ID) Plan {
	var users, groupIDs []types.ID
	members := GroupSnapshot{}
	for _, rule := range rules {
		switch rule.Type {
		case domain.PerformerTypeUser:
			users = append(users, rule.UserID)
		case domain.PerformerTypeGroup:
			groupIDs = append(groupIDs, rule.GroupID)
			if len(groups[rule.GroupID]) > 0 {
				members[rule.GroupID] = uniqueIDs(groups[rule.GroupID])
			}
		case domain.PerformerTypeField:
			users = append(users, fields[rule.FieldAPIName])
		case domain.PerformerTypeWorkflowStarter:
			users = append(users, starterID)
		}
	}
	return Plan{Users: uniqueIDs(users), Groups: uniqueIDs(groupIDs), Members: members}
}

// ResolveFromTemplate returns the users that perform a template task: rule users, members of
// rule groups, users held by referenced fields and the starter.
func ResolveFromTemplate(rules []domain.RawPerformerTemplate, groups GroupSnapshot, fields FieldSnapshot, starterID types.ID) KeySet {
	plan := PlanFromTemplate(rules, groups, fields, starterID)
	keys := KeySet{}
	for _, u := range plan.Users {
		keys.Add(Key{Type: domain.PerformerTypeUser, TargetID: u})
	}
	for _, g := range plan.Groups {
		for _, u := range plan.Members[g] {
			keys.Add(Key{Type: domain.PerformerTypeUser, TargetID: u})
		}
	}
	return keys
}
