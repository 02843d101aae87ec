package account

import (
	"time"

	"github.com/fundwit/go-commons/types"
)

type Account struct {
	ID         types.ID  `json:"id" gorm:"primary_key"`
	Name       string    `json:"name"`
	CreateTime time.Time `json:"createTime"`
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

type User struct {
	ID        types.ID   `json:"id" gorm:"primary_key"`
	AccountID types.ID   `json:"accountId" gorm:"index"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Nickname  string     `json:"nickname"`
	Status    UserStatus `json:"status" gorm:"size:16"`

	IsAdmin        bool `json:"isAdmin"`
	IsAccountOwner bool `json:"isAccountOwner"`
	IsSubscribed   bool `json:"isSubscribed"`

	CreateTime time.Time `json:"createTime"`
}

func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	} else {
		return u.Name
	}
}

func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// Contact is what the notification layer needs to reach a user.
type Contact struct {
	UserID     types.ID `json:"userId"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Subscribed bool     `json:"subscribed"`
}
