package performer

import (
	"flowdesk/domain"

	"github.com/fundwit/go-commons/types"
)

// Coverage is the active performer set of a task together with the members of its active
// group performers.
type Coverage struct {
	TaskID  types.ID
	Rows    []domain.TaskPerformer
	Members GroupSnapshot
}

func LoadCoverage(repo Repository, taskID types.ID) (*Coverage, error) {
	rows, err := repo.FindActiveByTask(taskID)
	if err != nil {
		return nil, err
	}
	var groupIDs []types.ID
	for _, row := range rows {
		if row.Type == domain.PerformerTypeGroup {
			groupIDs = append(groupIDs, row.GroupID)
		}
	}
	members, err := repo.GroupMemberIDs(groupIDs...)
	if err != nil {
		return nil, err
	}
	return &Coverage{TaskID: taskID, Rows: rows, Members: members}, nil
}

func (c *Coverage) Units() []domain.TaskPerformer {
	var units []domain.TaskPerformer
	for _, row := range c.Rows {
		if row.IsUnit() {
			units = append(units, row)
		}
	}
	return units
}

func (c *Coverage) HasDirectUser(userID types.ID) bool {
	for _, row := range c.Rows {
		if row.Type == domain.PerformerTypeUser && row.UserID == userID && !row.IsGroupDerived() {
			return true
		}
	}
	return false
}

// CoveringGroups lists the active group performers, other than excluded, that contain the user.
func (c *Coverage) CoveringGroups(userID types.ID, excluded types.ID) []types.ID {
	var groups []types.ID
	for _, row := range c.Rows {
		if row.Type != domain.PerformerTypeGroup || row.GroupID == excluded {
			continue
		}
		for _, m := range c.Members[row.GroupID] {
			if m == userID {
				groups = append(groups, row.GroupID)
				break
			}
		}
	}
	return sortIDs(groups)
}

// IsCovered reports whether the user performs the task through any path except the excluded
// group.
func (c *Coverage) IsCovered(userID types.ID, excludedGroup types.ID) bool {
	return c.HasDirectUser(userID) || len(c.CoveringGroups(userID, excludedGroup)) > 0
}

// Cover makes sure the user has an active row on the task, created on behalf of the group.
// It returns true when the user was not covered before.
func Cover(repo Repository, task *domain.Task, groupID, userID types.ID) (bool, error) {
	row, err := repo.FindByKey(task.ID, Key{Type: domain.PerformerTypeUser, TargetID: userID})
	if err != nil {
		return false, err
	}
	if row != nil && row.IsActive() {
		return false, nil
	}
	if row != nil {
		row.DirectlyStatus = domain.DirectlyStatusNone
		row.SourceGroupID = groupID
		row.IsCompleted = false
		row.DateCompleted = nil
		return true, repo.Save(row)
	}
	return true, repo.Create(&domain.TaskPerformer{TaskID: task.ID, WorkflowID: task.WorkflowID,
		Type: domain.PerformerTypeUser, UserID: userID, SourceGroupID: groupID})
}

// Uncover withdraws the coverage the group gave to the user. A user still covered by another
// group is moved to that group; a user covered by nothing else has the row soft deleted and
// is reported orphaned. Direct rows and rows of other groups are left alone.
func Uncover(repo Repository, c *Coverage, groupID, userID types.ID) (bool, error) {
	row, err := repo.FindByKey(c.TaskID, Key{Type: domain.PerformerTypeUser, TargetID: userID})
	if err != nil {
		return false, err
	}
	if row == nil || !row.IsActive() || row.SourceGroupID != groupID {
		return false, nil
	}
	if others := c.CoveringGroups(userID, groupID); len(others) > 0 {
		row.SourceGroupID = others[0]
		return false, repo.Save(row)
	}
	row.DirectlyStatus = domain.DirectlyStatusDeleted
	return true, repo.Save(row)
}
