package account

import (
	"context"
	"flowdesk/bizerror"
	"flowdesk/idgen"
	"flowdesk/persistence"
	"flowdesk/session"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/gorm"
)

var (
	CreateAccountFunc = CreateAccount
	CreateUserFunc    = CreateUser

	validate = validator.New()
)

type AccountCreation struct {
	Name       string `json:"name" validate:"required,max=100"`
	OwnerName  string `json:"ownerName" validate:"required,max=100"`
	OwnerEmail string `json:"ownerEmail" validate:"required,email"`
}

type UserCreation struct {
	Name       string `json:"name" validate:"required,max=100"`
	Nickname   string `json:"nickname" validate:"max=100"`
	Email      string `json:"email" validate:"required,email"`
	Admin      bool   `json:"admin"`
	Subscribed bool   `json:"subscribed"`
}

// CreateAccount provisions an account with its owner.
func CreateAccount(ctx context.Context, c *AccountCreation) (*Account, *User, error) {
	if err := validate.Struct(c); err != nil {
		return nil, nil, err
	}
	now := time.Now()
	a := &Account{ID: idgen.Next(), Name: c.Name, CreateTime: now}
	owner := &User{ID: idgen.Next(), AccountID: a.ID, Name: c.OwnerName, Email: c.OwnerEmail,
		Status: UserStatusActive, IsAdmin: true, IsAccountOwner: true, IsSubscribed: true, CreateTime: now}
	err := persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		return tx.Create(owner).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return a, owner, nil
}

// CreateUser adds an active user to the actor's account.
func CreateUser(c *UserCreation, s *session.Session) (*User, error) {
	if err := validate.Struct(c); err != nil {
		return nil, err
	}
	if !s.HasAdminRights() {
		return nil, bizerror.ErrForbidden
	}
	u := &User{ID: idgen.Next(), AccountID: s.AccountID, Name: c.Name, Nickname: c.Nickname, Email: c.Email,
		Status: UserStatusActive, IsAdmin: c.Admin, IsSubscribed: c.Subscribed, CreateTime: time.Now()}
	if err := persistence.ActiveDataSourceManager.GormDBWithContext(s.Ctx()).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}
