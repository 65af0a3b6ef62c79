package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"matrix/internal/matrix/models"
	"matrix/internal/platform/postgres"
	id "matrix/pkg/domain"
	"matrix/pkg/platform/sentinel"
)

const memberColumns = `id, username, COALESCE(referral_code, ''), created_at, updated_at`

// PostgresStore persists the member directory in the members table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed member directory.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, m *models.Member) (*models.Member, error) {
	var code any
	if m.ReferralCode != "" {
		code = m.ReferralCode
	}
	query := `
		INSERT INTO members (id, username, referral_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			referral_code = EXCLUDED.referral_code,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + memberColumns
	out, err := scanMember(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(m.ID), m.Username, code, m.CreatedAt, m.UpdatedAt,
	))
	if err != nil {
		if _, ok := postgres.ConstraintViolation(err, postgres.UniqueViolation); ok {
			return nil, sentinel.ErrAlreadyUsed
		}
		return nil, fmt.Errorf("upsert member: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, ownerID id.OwnerID) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	m, err := scanMember(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(ownerID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// FindByToken matches usernames before referral codes, ignoring case.
func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*models.Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM members
		WHERE LOWER(username) = LOWER($1) OR LOWER(referral_code) = LOWER($1)
		ORDER BY (LOWER(username) = LOWER($1)) DESC
		LIMIT 1`
	m, err := scanMember(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find member by token: %w", err)
	}
	return m, nil
}

func scanMember(row interface{ Scan(dest ...any) error }) (*models.Member, error) {
	var (
		memberID uuid.UUID
		m        models.Member
	)
	if err := row.Scan(&memberID, &m.Username, &m.ReferralCode, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.ID = id.OwnerID(memberID)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}
