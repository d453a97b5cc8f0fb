package schools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

const selectSchool = `
	SELECT id, name, slug, manager_id, subscription_id, created_at, updated_at
	FROM schools
`

// GetSchool retrieves a school by ID
func (s *PostgresService) GetSchool(ctx context.Context, id int64) (*School, error) {
	return s.getOne(ctx, selectSchool+` WHERE id = $1`, id)
}

// GetSchoolBySlug retrieves a school by slug
func (s *PostgresService) GetSchoolBySlug(ctx context.Context, slug string) (*School, error) {
	return s.getOne(ctx, selectSchool+` WHERE slug = $1`, slug)
}

// GetSchoolBySubscription retrieves the school linked to a subscription
func (s *PostgresService) GetSchoolBySubscription(ctx context.Context, subscriptionID string) (*School, error) {
	return s.getOne(ctx, selectSchool+` WHERE subscription_id = $1`, subscriptionID)
}

// ListSubscribedSchools lists every school with a linked subscription
func (s *PostgresService) ListSubscribedSchools(ctx context.Context) ([]*School, error) {
	rows, err := s.db.QueryContext(ctx, selectSchool+` WHERE subscription_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schools: %w", err)
	}
	defer rows.Close()

	var schools []*School
	for rows.Next() {
		school, err := scanSchool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan school: %w", err)
		}
		schools = append(schools, school)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schools: %w", err)
	}

	return schools, nil
}

func (s *PostgresService) getOne(ctx context.Context, query string, arg any) (*School, error) {
	school, err := scanSchool(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSchoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get school: %w", err)
	}
	return school, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchool(row scanner) (*School, error) {
	school := &School{}
	var managerID sql.NullInt64
	var subscriptionID sql.NullString
	if err := row.Scan(
		&school.ID, &school.Name, &school.Slug, &managerID, &subscriptionID,
		&school.CreatedAt, &school.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if managerID.Valid {
		school.ManagerID = &managerID.Int64
	}
	if subscriptionID.Valid {
		school.SubscriptionID = &subscriptionID.String
	}
	return school, nil
}
