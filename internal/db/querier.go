package db

import (
	"context"
)

type Querier interface {
	CreateUser(ctx context.Context, arg CreateUserParams) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, arg ListUsersParams) ([]User, error)
	DeleteUser(ctx context.Context, id int64) (int64, error)

	CreateClimb(ctx context.Context, arg CreateClimbParams) (Climb, error)
	GetClimb(ctx context.Context, id int64) (Climb, error)
	ListClimbsByUser(ctx context.Context, arg ListClimbsByUserParams) ([]Climb, error)
	MarkClimbEnqueued(ctx context.Context, id int64) error
	ClaimClimb(ctx context.Context, arg ClaimClimbParams) (Climb, error)
	HeartbeatClimb(ctx context.Context, arg HeartbeatClimbParams) (int64, error)
	CompleteClimb(ctx context.Context, arg CompleteClimbParams) (int64, error)
	FailClimb(ctx context.Context, arg FailClimbParams) (int64, error)
	FailPendingClimb(ctx context.Context, arg FailPendingClimbParams) (int64, error)
	FailStaleClimb(ctx context.Context, arg FailStaleClimbParams) (int64, error)
	ListStaleProcessing(ctx context.Context, arg ListStaleProcessingParams) ([]Climb, error)
	ListOrphanPending(ctx context.Context, arg ListOrphanPendingParams) ([]Climb, error)
}

var _ Querier = (*Queries)(nil)
