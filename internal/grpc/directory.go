package grpc

import (
	"context"
	"errors"
	"fmt"

	"chat-plugin/internal/models"
	"chat-plugin/internal/repositories"
)

// LocalUsers is the chat copy of host users.
type LocalUsers interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	UpsertUser(ctx context.Context, u models.User) error
}

// Profiles fetches users from the identity service.
type Profiles interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
}

// Directory resolves users locally and copies unknown ones from identity on
// first sight.
type Directory struct {
	local    LocalUsers
	profiles Profiles
}

func NewDirectory(local LocalUsers, profiles Profiles) *Directory {
	return &Directory{local: local, profiles: profiles}
}

func (d *Directory) GetUser(ctx context.Context, userID int) (models.User, error) {
	u, err := d.local.GetUser(ctx, userID)
	if err == nil || !errors.Is(err, repositories.ErrUserNotFound) {
		return u, err
	}
	profile, err := d.profiles.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("identity get user %d: %w", userID, err)
	}
	if err := d.local.UpsertUser(ctx, profile); err != nil {
		return models.User{}, fmt.Errorf("store user %d: %w", userID, err)
	}
	return d.local.GetUser(ctx, userID)
}
