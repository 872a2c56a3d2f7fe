package types

import (
	"context"
	"time"
)

type UserRole string

const (
	RoleUser    UserRole = "user"
	RoleManager UserRole = "manager"
	RoleAdmin   UserRole = "admin"
)

type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserBlocked UserStatus = "blocked"
)

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Role       UserRole
	Status     UserStatus
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// CanManage reports whether the user may edit other users' tags.
func (u *User) CanManage() bool {
	return u != nil && (u.Role == RoleManager || u.Role == RoleAdmin)
}

func (u *User) IsBlocked() bool {
	return u != nil && u.Status == UserBlocked
}

type Stats struct {
	Users             int64
	ActiveSubscribers int64
	CompletedPayments int64
}

type UserStore interface {
	UpsertUser(ctx context.Context, user User) (*User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	SetRole(ctx context.Context, userID int64, role UserRole) error
	AddTag(ctx context.Context, userID int64, tag string) error
	RemoveTag(ctx context.Context, userID int64, tag string) error
	Stats(ctx context.Context) (*Stats, error)
}
