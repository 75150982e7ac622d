package store

import (
	"errors"
	"time"
)

// User is a mapped user account.
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null;size:255" json:"name"`
	UID       uint32    `gorm:"uniqueIndex;not null" json:"uid"`
	GID       uint32    `gorm:"not null" json:"gid"`
	Groups    []Group   `gorm:"many2many:idmap_user_groups;" json:"groups,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "idmap_users"
}

// GIDs returns the primary group followed by the supplementary groups.
func (u *User) GIDs() []uint32 {
	gids := make([]uint32, 0, len(u.Groups)+1)
	gids = append(gids, u.GID)
	for _, g := range u.Groups {
		if g.GID != u.GID {
			gids = append(gids, g.GID)
		}
	}
	return gids
}

// Group is a mapped group.
type Group struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null;size:255" json:"name"`
	GID       uint32    `gorm:"uniqueIndex;not null" json:"gid"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Group.
func (Group) TableName() string {
	return "idmap_groups"
}

// AllModels returns the models migrated by New.
func AllModels() []any {
	return []any{&User{}, &Group{}}
}

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")

	ErrGroupNotFound  = errors.New("group not found")
	ErrDuplicateGroup = errors.New("group already exists")
)
