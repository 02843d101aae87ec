package usergroup

import (
	"context"
	"flowdesk/domain"
	"flowdesk/domain/performer"
	"flowdesk/event"
	"flowdesk/notification"
	"flowdesk/session"
	"sort"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"
)

var (
	OnUsersAddedFunc   = OnUsersAdded
	OnUsersRemovedFunc = OnUsersRemoved
)

// MembershipChange is what a membership change did to live performers. It is built inside
// the transaction and flushed after commit.
type MembershipChange struct {
	GroupID types.ID

	// Covered and Orphaned map task ids to users.
	Covered  map[types.ID][]types.ID
	Orphaned map[types.ID][]types.ID
	Delayed  map[types.ID]bool

	Templates []types.ID
}

func newMembershipChange(groupID types.ID) *MembershipChange {
	return &MembershipChange{GroupID: groupID, Covered: map[types.ID][]types.ID{},
		Orphaned: map[types.ID][]types.ID{}, Delayed: map[types.ID]bool{}}
}

// OnUsersAdded covers the added users on every open task performed by the group, unless they
// already perform it through another path.
func OnUsersAdded(tx *gorm.DB, group *domain.UserGroup, userIDs []types.ID) (*MembershipChange, error) {
	change := newMembershipChange(group.ID)
	repo := performer.NewRepository(tx)
	tasks, err := repo.FindActiveGroupTasks(group.ID)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		task := &tasks[i]
		for _, uid := range userIDs {
			covered, err := performer.Cover(repo, task, group.ID, uid)
			if err != nil {
				return nil, err
			}
			if covered {
				change.Covered[task.ID] = append(change.Covered[task.ID], uid)
			}
		}
		if _, err := repo.UpsertWorkflowMembers(task.WorkflowID, userIDs); err != nil {
			return nil, err
		}
		change.Delayed[task.ID] = task.Status == domain.TaskStatusDelayed
	}

	if change.Templates, err = AffectedTemplates(tx, group.ID); err != nil {
		return nil, err
	}
	return change, nil
}

// OnUsersRemoved withdraws the coverage the group gave to removed users. Users performing
// through nothing else lose their row and are reported orphaned; the group performer row is
// left untouched.
func OnUsersRemoved(tx *gorm.DB, group *domain.UserGroup, userIDs []types.ID) (*MembershipChange, error) {
	change := newMembershipChange(group.ID)
	repo := performer.NewRepository(tx)
	tasks, err := repo.FindActiveGroupTasks(group.ID)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		task := &tasks[i]
		coverage, err := performer.LoadCoverage(repo, task.ID)
		if err != nil {
			return nil, err
		}
		for _, uid := range userIDs {
			orphaned, err := performer.Uncover(repo, coverage, group.ID, uid)
			if err != nil {
				return nil, err
			}
			if orphaned {
				change.Orphaned[task.ID] = append(change.Orphaned[task.ID], uid)
			}
		}
		change.Delayed[task.ID] = task.Status == domain.TaskStatusDelayed
	}

	if change.Templates, err = AffectedTemplates(tx, group.ID); err != nil {
		return nil, err
	}
	return change, nil
}

// AffectedTemplates lists templates using the group as owner, as a raw performer rule, or
// through a live performer row on one of their workflows.
func AffectedTemplates(tx *gorm.DB, groupID types.ID) ([]types.ID, error) {
	var owned, ruled, live []types.ID
	if err := tx.Model(&domain.TemplateOwner{}).Where("type = ? AND group_id = ?", domain.OwnerTypeGroup, groupID).
		Pluck("template_id", &owned).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&domain.RawPerformerTemplate{}).Where("type = ? AND group_id = ?", domain.PerformerTypeGroup, groupID).
		Pluck("template_id", &ruled).Error; err != nil {
		return nil, err
	}
	if err := tx.Table("workflows").Joins("JOIN task_performers ON task_performers.workflow_id = workflows.id").
		Where("task_performers.type = ? AND task_performers.group_id = ? AND task_performers.directly_status <> ?",
			domain.PerformerTypeGroup, groupID, domain.DirectlyStatusDeleted).
		Pluck("workflows.template_id", &live).Error; err != nil {
		return nil, err
	}

	seen := map[types.ID]bool{}
	var templates []types.ID
	for _, ids := range [][]types.ID{owned, ruled, live} {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				templates = append(templates, id)
			}
		}
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i] < templates[j] })
	return templates, nil
}

// Flush sends notifications and audit events. New performers of delayed tasks are not
// notified.
func (c *MembershipChange) Flush(ctx context.Context, s *session.Session) {
	if c == nil {
		return
	}
	for _, taskID := range sortedKeys(c.Covered) {
		if c.Delayed[taskID] {
			continue
		}
		notifyUsers(ctx, taskID, c.Covered[taskID], notification.ActiveDispatcher.NotifyNewPerformer)
	}
	for _, taskID := range sortedKeys(c.Orphaned) {
		notifyUsers(ctx, taskID, c.Orphaned[taskID], notification.ActiveDispatcher.NotifyRemovedPerformer)
	}

	records := []event.EventRecord{event.NewEvent(event.GroupMembersChanged, s, event.Target{Type: event.TargetTypeGroup, ID: c.GroupID}, 0, 0)}
	for _, templateID := range c.Templates {
		records = append(records, event.NewEvent(event.TemplateGroupAffected, s, event.Target{Type: event.TargetTypeTemplate, ID: templateID}, 0, 0))
	}
	event.Publish(ctx, records...)
}

func notifyUsers(ctx context.Context, taskID types.ID, userIDs []types.ID,
	send func(ctx context.Context, taskID types.ID, recipients []notification.Recipient)) {
	recipients, err := notification.RecipientsOfFunc(ctx, userIDs)
	if err != nil {
		logrus.WithFields(logrus.Fields{"task": taskID}).Warnf("resolve notification recipients: %v", err)
		return
	}
	send(ctx, taskID, recipients)
}

func sortedKeys(m map[types.ID][]types.ID) []types.ID {
	keys := make([]types.ID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
