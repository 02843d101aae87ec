package usergroup

import (
	"errors"
	"flowdesk/account"
	"flowdesk/bizerror"
	"flowdesk/domain"
	"flowdesk/domain/performer"
	"flowdesk/event"
	"flowdesk/idgen"
	"flowdesk/persistence"
	"flowdesk/session"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/gorm"
)

var (
	CreateGroupFunc        = CreateGroup
	QueryGroupsFunc        = QueryGroups
	AddGroupMembersFunc    = AddGroupMembers
	RemoveGroupMembersFunc = RemoveGroupMembers
	DeleteGroupFunc        = DeleteGroup

	validate = validator.New()
)

type GroupCreation struct {
	Name      string     `json:"name" validate:"required,max=100"`
	MemberIDs []types.ID `json:"memberIds" validate:"dive,required"`
}

type MembersChange struct {
	GroupID types.ID   `json:"groupId" validate:"required"`
	UserIDs []types.ID `json:"userIds" validate:"required,min=1,dive,required"`
}

type GroupDetail struct {
	domain.UserGroup
	MemberIDs []types.ID `json:"memberIds"`
}

func CreateGroup(c *GroupCreation, s *session.Session) (*domain.UserGroup, error) {
	if err := validate.Struct(c); err != nil {
		return nil, err
	}
	if !s.HasAdminRights() {
		return nil, bizerror.ErrForbidden
	}
	g := &domain.UserGroup{ID: idgen.Next(), AccountID: s.AccountID, Name: c.Name, CreateTime: time.Now()}
	err := persistence.ActiveDataSourceManager.GormDBWithContext(s.Ctx()).Transaction(func(tx *gorm.DB) error {
		if err := checkAccountUsers(tx, s.AccountID, c.MemberIDs); err != nil {
			return err
		}
		if err := tx.Create(g).Error; err != nil {
			return err
		}
		_, err := insertMembers(tx, g.ID, c.MemberIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	event.Record(s.Ctx(), event.GroupMembersChanged, s, event.Target{Type: event.TargetTypeGroup, ID: g.ID}, 0, 0)
	return g, nil
}

func QueryGroups(s *session.Session) ([]GroupDetail, error) {
	db := persistence.ActiveDataSourceManager.GormDBWithContext(s.Ctx())
	var groups []domain.UserGroup
	if err := db.Where("account_id = ?", s.AccountID).Order("name ASC, id ASC").Find(&groups).Error; err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []GroupDetail{}, nil
	}
	ids := make([]types.ID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	members, err := performer.NewRepository(db).GroupMemberIDs(ids...)
	if err != nil {
		return nil, err
	}
	details := make([]GroupDetail, 0, len(groups))
	for _, g := range groups {
		details = append(details, GroupDetail{UserGroup: g, MemberIDs: members[g.ID]})
	}
	return details, nil
}

// AddGroupMembers adds users to a group and covers them on every open task the group performs.
func AddGroupMembers(c *MembersChange, s *session.Session) (*MembershipChange, error) {
	return changeMembers(c, s, func(tx *gorm.DB, g *domain.UserGroup) (*MembershipChange, error) {
		added, err := insertMembers(tx, g.ID, c.UserIDs)
		if err != nil {
			return nil, err
		}
		return OnUsersAddedFunc(tx, g, added)
	})
}

// RemoveGroupMembers removes users from a group and withdraws the coverage the group gave them.
func RemoveGroupMembers(c *MembersChange, s *session.Session) (*MembershipChange, error) {
	return changeMembers(c, s, func(tx *gorm.DB, g *domain.UserGroup) (*MembershipChange, error) {
		var removed []types.ID
		if err := tx.Model(&domain.UserGroupMember{}).Where("group_id = ? AND user_id IN (?)", g.ID, c.UserIDs).
			Order("user_id ASC").Pluck("user_id", &removed).Error; err != nil {
			return nil, err
		}
		if len(removed) > 0 {
			if err := tx.Where("group_id = ? AND user_id IN (?)", g.ID, removed).Delete(&domain.UserGroupMember{}).Error; err != nil {
				return nil, err
			}
		}
		return OnUsersRemovedFunc(tx, g, removed)
	})
}

// DeleteGroup removes a group that no live performer row uses, together with its memberships,
// ownerships and performer rules.
func DeleteGroup(groupID types.ID, s *session.Session) error {
	if !s.HasAdminRights() {
		return bizerror.ErrForbidden
	}
	err := persistence.ActiveDataSourceManager.GormDBWithContext(s.Ctx()).Transaction(func(tx *gorm.DB) error {
		g, err := loadGroup(tx, groupID, s)
		if err != nil {
			return err
		}
		tasks, err := performer.NewRepository(tx).FindActiveGroupTasks(g.ID)
		if err != nil {
			return err
		}
		if len(tasks) > 0 {
			return bizerror.ErrGroupInUse
		}
		if err := tx.Where("group_id = ?", g.ID).Delete(&domain.UserGroupMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("type = ? AND group_id = ?", domain.OwnerTypeGroup, g.ID).Delete(&domain.TemplateOwner{}).Error; err != nil {
			return err
		}
		if err := tx.Where("type = ? AND group_id = ?", domain.PerformerTypeGroup, g.ID).Delete(&domain.RawPerformerTemplate{}).Error; err != nil {
			return err
		}
		return tx.Delete(g).Error
	})
	if err != nil {
		return err
	}
	event.Record(s.Ctx(), event.GroupMembersChanged, s, event.Target{Type: event.TargetTypeGroup, ID: groupID}, 0, 0)
	return nil
}

func changeMembers(c *MembersChange, s *session.Session,
	apply func(tx *gorm.DB, g *domain.UserGroup) (*MembershipChange, error)) (*MembershipChange, error) {
	if err := validate.Struct(c); err != nil {
		return nil, err
	}
	if !s.HasAdminRights() {
		return nil, bizerror.ErrForbidden
	}
	var change *MembershipChange
	err := persistence.ActiveDataSourceManager.GormDBWithContext(s.Ctx()).Transaction(func(tx *gorm.DB) error {
		g, err := loadGroup(tx, c.GroupID, s)
		if err != nil {
			return err
		}
		if err := checkAccountUsers(tx, g.AccountID, c.UserIDs); err != nil {
			return err
		}
		change, err = apply(tx, g)
		return err
	})
	if err != nil {
		return nil, err
	}
	account.InvalidateContacts(c.UserIDs...)
	change.Flush(s.Ctx(), s)
	return change, nil
}

func loadGroup(tx *gorm.DB, groupID types.ID, s *session.Session) (*domain.UserGroup, error) {
	g := &domain.UserGroup{}
	if err := tx.Where("id = ?", groupID).First(g).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerror.ErrNotFound
		}
		return nil, err
	}
	if !s.IsSuperuser && g.AccountID != s.AccountID {
		return nil, bizerror.ErrNotFound
	}
	return g, nil
}

func checkAccountUsers(tx *gorm.DB, accountID types.ID, userIDs []types.ID) error {
	ids := unique(userIDs)
	count, err := account.CountAccountUsers(tx, accountID, ids)
	if err != nil {
		return err
	}
	if count != len(ids) {
		return bizerror.ErrNotFound
	}
	return nil
}

// insertMembers adds the users that are not members yet and returns them.
func insertMembers(tx *gorm.DB, groupID types.ID, userIDs []types.ID) ([]types.ID, error) {
	ids := unique(userIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	var existing []types.ID
	if err := tx.Model(&domain.UserGroupMember{}).Where("group_id = ? AND user_id IN (?)", groupID, ids).
		Pluck("user_id", &existing).Error; err != nil {
		return nil, err
	}
	found := map[types.ID]bool{}
	for _, id := range existing {
		found[id] = true
	}
	var added []types.ID
	for _, uid := range ids {
		if found[uid] {
			continue
		}
		if err := tx.Create(&domain.UserGroupMember{ID: idgen.Next(), GroupID: groupID, UserID: uid, CreateTime: time.Now()}).Error; err != nil {
			return nil, err
		}
		added = append(added, uid)
	}
	return added, nil
}

func unique(ids []types.ID) []types.ID {
	seen := map[types.ID]bool{}
	var r []types.ID
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			r = append(r, id)
		}
	}
	return r
}
