package domain

import (
	"time"

	"github.com/fundwit/go-commons/types"
)

type UserGroup struct {
	ID         types.ID  `json:"id" gorm:"primary_key"`
	AccountID  types.ID  `json:"accountId" gorm:"unique_index:uix_user_group_name"`
	Name       string    `json:"name" gorm:"unique_index:uix_user_group_name"`
	CreateTime time.Time `json:"createTime"`
}

type UserGroupMember struct {
	ID         types.ID  `json:"id" gorm:"primary_key"`
	GroupID    types.ID  `json:"groupId" gorm:"unique_index:uix_user_group_member"`
	UserID     types.ID  `json:"userId" gorm:"unique_index:uix_user_group_member"`
	CreateTime time.Time `json:"createTime"`
}
