package account

import (
	"context"
	"errors"
	"flowdesk/bizerror"
	"flowdesk/persistence"
	"flowdesk/session"
	"strconv"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/patrickmn/go-cache"
)

const ContactExpiration = 5 * time.Minute

var (
	ContactCache = cache.New(ContactExpiration, 10*time.Minute)

	QueryContactsFunc = QueryContacts
)

func LoadUser(db *gorm.DB, id types.ID) (*User, error) {
	user := User{}
	if err := db.Where(&User{ID: id}).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerror.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// QueryActiveAccountUsers lists active users of the account, account owner first, then
// admins, then by id.
func QueryActiveAccountUsers(db *gorm.DB, accountID types.ID, excluding ...types.ID) ([]User, error) {
	q := db.Where("account_id = ? AND status = ?", accountID, UserStatusActive)
	if len(excluding) > 0 {
		q = q.Where("id NOT IN (?)", excluding)
	}
	var users []User
	if err := q.Order("is_account_owner DESC, is_admin DESC, id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CountAccountUsers counts users of the account among ids.
func CountAccountUsers(db *gorm.DB, accountID types.ID, ids []types.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int
	if err := db.Model(&User{}).Where("account_id = ? AND id IN (?)", accountID, ids).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// QueryContacts returns notification contacts of the given users, served from ContactCache
// when possible. Unknown ids are skipped.
func QueryContacts(ctx context.Context, ids []types.ID) ([]Contact, error) {
	contacts := make([]Contact, 0, len(ids))
	var missing []types.ID
	for _, id := range ids {
		if v, found := ContactCache.Get(contactKey(id)); found {
			contacts = append(contacts, v.(Contact))
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return contacts, nil
	}

	var users []User
	if err := persistence.ActiveDataSourceManager.GormDBWithContext(ctx).
		Where("id IN (?)", missing).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		c := Contact{UserID: u.ID, Email: u.Email, Name: u.DisplayName(), Subscribed: u.IsSubscribed}
		ContactCache.SetDefault(contactKey(u.ID), c)
		contacts = append(contacts, c)
	}
	return contacts, nil
}

func InvalidateContacts(ids ...types.ID) {
	for _, id := range ids {
		ContactCache.Delete(contactKey(id))
	}
}

// NewSession builds the actor session of a user.
func NewSession(ctx context.Context, u *User, authType string) *session.Session {
	return &session.Session{
		Context:   ctx,
		Identity:  session.Identity{ID: u.ID, Name: u.Name, Nickname: u.Nickname},
		AccountID: u.AccountID,
		IsAdmin:   u.IsAdmin || u.IsAccountOwner,
		AuthType:  authType,
	}
}

func contactKey(id types.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}
