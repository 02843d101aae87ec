package performer

import (
	"flowdesk/domain"
	"sort"

	"github.com/fundwit/go-commons/types"
)

// Key identifies a performer of a task: its type and the user or group it targets.
type Key struct {
	Type     domain.PerformerType `json:"type"`
	TargetID types.ID             `json:"targetId"`
}

func KeyOf(p *domain.TaskPerformer) Key {
	return Key{Type: p.Type, TargetID: p.TargetID()}
}

type KeySet map[Key]struct{}

func (s KeySet) Add(k Key) {
	s[k] = struct{}{}
}

func (s KeySet) Has(k Key) bool {
	_, found := s[k]
	return found
}

// Sorted returns the keys ordered by type then target id.
func (s KeySet) Sorted() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].TargetID < keys[j].TargetID
	})
	return keys
}

// Target is what a performer mutation adds or removes: a user or a group.
type Target struct {
	Kind domain.PerformerType `json:"kind" validate:"required,oneof=USER GROUP"`
	ID   types.ID             `json:"id" validate:"required"`
}

func UserTarget(id types.ID) Target {
	return Target{Kind: domain.PerformerTypeUser, ID: id}
}

func GroupTarget(id types.ID) Target {
	return Target{Kind: domain.PerformerTypeGroup, ID: id}
}

func (t Target) Key() Key {
	return Key{Type: t.Kind, TargetID: t.ID}
}

func (t Target) IsGroup() bool {
	return t.Kind == domain.PerformerTypeGroup
}

func sortIDs(ids []types.ID) []types.ID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func uniqueIDs(ids []types.ID) []types.ID {
	seen := map[types.ID]bool{}
	var r []types.ID
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		r = append(r, id)
	}
	return sortIDs(r)
}
