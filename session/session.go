package session

import (
	"context"

	"github.com/fundwit/go-commons/types"
)

const (
	AuthTypeUser   = "user"
	AuthTypeAPI    = "api"
	AuthTypeSystem = "system"
)

// Session is the actor of an operation, passed explicitly to every service call.
type Session struct {
	Context context.Context `json:"-"`

	Identity  Identity `json:"identity"`
	AccountID types.ID `json:"accountId"`

	IsAdmin     bool   `json:"isAdmin"`
	IsSuperuser bool   `json:"isSuperuser"`
	AuthType    string `json:"authType"`
}

type Identity struct {
	ID       types.ID `json:"id"`
	Name     string   `json:"name"`
	Nickname string   `json:"nickname"`
}

func (s *Session) Ctx() context.Context {
	if s == nil || s.Context == nil {
		return context.Background()
	}
	return s.Context
}

// HasAdminRights reports whether the actor may manage every task of its account.
func (s *Session) HasAdminRights() bool {
	return s != nil && (s.IsAdmin || s.IsSuperuser)
}

func (s *Session) Clone() Session {
	return *s
}

// SystemSession is used by background jobs acting on behalf of the platform.
func SystemSession(ctx context.Context, accountID types.ID) *Session {
	return &Session{
		Context:     ctx,
		Identity:    Identity{Name: "system"},
		AccountID:   accountID,
		IsSuperuser: true,
		AuthType:    AuthTypeSystem,
	}
}
