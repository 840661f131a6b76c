package users

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("username already exists")
)

// Account is the backend-side record behind a User.
type Account struct {
	User
	PasswordHash string
	CreatedAt    time.Time
}

// Repo stores accounts keyed by username.
type Repo interface {
	Create(account *Account) error
	GetByUsername(username string) (*Account, error)
	GetByID(id string) (*Account, error)
}
