package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"capdist.org/internal/caps"
	"capdist.org/internal/ids"
)

var (
	ErrConflict = errors.New("pg: resource conflict")
)

var _ caps.UserResolver = (*Store)(nil)

// ResolveUser looks a user up by id or handle and loads the assigned roles
// in assignment order.
func (s *Store) ResolveUser(ctx context.Context, ref string) (*caps.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: user reference is required", caps.ErrInvalidInput)
	}
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}

	var u caps.User
	err := s.db.QueryRowContext(ctx, `
		select id, coalesce(handle, '')
		from users
		where id = $1 or handle = $1
	`, ref).Scan(&u.ID, &u.Handle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", caps.ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select role
		from user_roles
		where user_id = $1
		order by created_at, role
	`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user with an optional handle and returns the record.
func (s *Store) CreateUser(ctx context.Context, handle string, roles []string) (caps.User, error) {
	handle = strings.TrimSpace(handle)
	if s.db == nil {
		return caps.User{}, errors.New("database connection unavailable")
	}

	id := ids.New()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return caps.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, handle)
		values ($1, nullif($2, ''))
	`, id, handle); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return caps.User{}, fmt.Errorf("%w: handle %s", ErrConflict, handle)
		}
		return caps.User{}, err
	}

	u := caps.User{ID: id, Handle: handle}
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role)
			values ($1, $2)
			on conflict do nothing
		`, id, role); err != nil {
			return caps.User{}, err
		}
		u.Roles = append(u.Roles, role)
	}

	if err := tx.Commit(); err != nil {
		return caps.User{}, err
	}
	return u, nil
}

// AssignRole adds a role to a user; assigning an already-held role is a
// no-op.
func (s *Store) AssignRole(ctx context.Context, userID, role string) error {
	userID = strings.TrimSpace(userID)
	role = strings.TrimSpace(role)
	if userID == "" || role == "" {
		return fmt.Errorf("%w: user id and role are required", caps.ErrInvalidInput)
	}
	if s.db == nil {
		return errors.New("database connection unavailable")
	}

	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role)
		values ($1, $2)
		on conflict do nothing
	`, userID, role)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: user %s", caps.ErrNotFound, userID)
		}
		return err
	}
	return nil
}

// RemoveRole removes a role assignment and reports whether one existed.
func (s *Store) RemoveRole(ctx context.Context, userID, role string) (bool, error) {
	userID = strings.TrimSpace(userID)
	role = strings.TrimSpace(role)
	if userID == "" || role == "" {
		return false, fmt.Errorf("%w: user id and role are required", caps.ErrInvalidInput)
	}
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}

	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role = $2
	`, userID, role)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
