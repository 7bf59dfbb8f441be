package db

import (
	"context"
)

const userColumns = `id, username, email, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	return u, err
}

const createUser = `-- name: CreateUser :one
INSERT INTO users (username, email)
VALUES ($1, $2)
RETURNING ` + userColumns

type CreateUserParams struct {
	Username string
	Email    string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, createUser, arg.Username, arg.Email))
	return u, translate(err)
}

const getUser = `-- name: GetUser :one
SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, getUser, id))
	return u, translate(err)
}

const getUserByUsername = `-- name: GetUserByUsername :one
SELECT ` + userColumns + ` FROM users WHERE username = $1`

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, getUserByUsername, username))
	return u, translate(err)
}

const listUsers = `-- name: ListUsers :many
SELECT ` + userColumns + ` FROM users
ORDER BY id
LIMIT $1 OFFSET $2`

type ListUsersParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListUsers(ctx context.Context, arg ListUsersParams) ([]User, error) {
	rows, err := q.db.Query(ctx, listUsers, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

const deleteUser = `-- name: DeleteUser :execrows
DELETE FROM users WHERE id = $1`

// DeleteUser removes the user; the foreign key cascades to their climbs.
func (q *Queries) DeleteUser(ctx context.Context, id int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteUser, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
