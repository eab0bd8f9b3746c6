package filestore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// A User is an account record kept in users.json. The channel itself does
// not use accounts.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// GetUser returns the user with the given id.
func (s *FileStore) GetUser(_ context.Context, id string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return User{}, false, err
	}
	u, ok := users[id]
	return u, ok, nil
}

// GetUserByUsername returns the first user with the given username.
func (s *FileStore) GetUserByUsername(_ context.Context, username string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return User{}, false, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

// CreateUser stores a new user with a generated id.
func (s *FileStore) CreateUser(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return User{}, err
	}
	u := User{ID: uuid.NewString(), Username: username}
	users[u.ID] = u
	if err := writeJSON(s.path(usersFile), users); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *FileStore) readUsers() (map[string]User, error) {
	users := make(map[string]User)
	if err := readJSON(s.path(usersFile), &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = make(map[string]User)
	}
	return users, nil
}
