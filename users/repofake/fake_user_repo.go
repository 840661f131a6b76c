package fakeuserrepo

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/users"
)

var _ users.Repo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	accounts    map[string]*users.Account // id to account
	usernameIDs map[string]string         // username to id
	lock        sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		accounts:    make(map[string]*users.Account),
		usernameIDs: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Create(account *users.Account) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if _, ok := ur.usernameIDs[account.Username]; ok {
		return users.ErrAlreadyExists
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	ur.accounts[account.ID] = account
	ur.usernameIDs[account.Username] = account.ID
	return nil
}

func (ur *FakeUserRepo) GetByUsername(username string) (*users.Account, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.usernameIDs[username]
	if !ok {
		return nil, users.ErrNotFound
	}
	return ur.accounts[id], nil
}

func (ur *FakeUserRepo) GetByID(id string) (*users.Account, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	account, ok := ur.accounts[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return account, nil
}
