package domain

import (
	"context"
	"errors"
)

type Service interface {
	IsOwned(ctx context.Context, userID, resourceType, resourceID string) (bool, error)
	// Grant records ownership; granting an already-owned resource is a no-op.
	Grant(ctx context.Context, userID, resourceType, resourceID string) error
	ListOwned(ctx context.Context, userID, resourceType string) ([]Ownership, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidResource     = errors.New("invalid_resource")
)
