package position

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"matrix/internal/matrix/models"
	"matrix/internal/platform/postgres"
	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
	"matrix/pkg/platform/sentinel"
)

const positionColumns = `
	id, owner_id, tier_id, parent_id, root_id, depth, slot_index, capacity, child_count,
	array_to_string(lineage, ','), array_to_string(slot_path, '.'), created_at`

// Constraint names from the matrix_positions migration.
const (
	constraintOwner      = "matrix_positions_owner_key"
	constraintParentSlot = "matrix_positions_parent_slot_key"
	constraintRootSlot   = "matrix_positions_root_slot_key"
	constraintChildCount = "matrix_positions_child_count_check"
)

// PostgresStore persists positions in matrix_positions. Create runs the parent's
// conditional increment and the child insert in one transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed position store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, pos *models.Position) (*models.Position, error) {
	if pos == nil {
		return nil, fmt.Errorf("position is required")
	}
	var created *models.Position
	err := postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		var err error
		if pos.IsRoot() {
			created, err = s.insertRoot(ctx, pos)
		} else {
			created, err = s.insertChild(ctx, pos)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresStore) insertRoot(ctx context.Context, pos *models.Position) (*models.Position, error) {
	conn := postgres.Conn(ctx, s.db)

	var ordinal int
	err := conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(slot_index) + 1, 0) FROM matrix_positions WHERE parent_id IS NULL`,
	).Scan(&ordinal)
	if err != nil {
		return nil, fmt.Errorf("next root ordinal: %w", err)
	}

	query := `
		INSERT INTO matrix_positions
			(id, owner_id, tier_id, parent_id, root_id, depth, slot_index, capacity, child_count, lineage, slot_path, created_at)
		VALUES ($1, $2, $3, NULL, $1, 0, $4, $5, 0, ARRAY[$1::uuid], ARRAY[$4::int], $6)
		RETURNING ` + positionColumns
	created, err := scanPosition(conn.QueryRowContext(ctx, query,
		uuid.UUID(pos.ID), uuid.UUID(pos.OwnerID), string(pos.TierID), ordinal, pos.Capacity, pos.CreatedAt,
	))
	if err != nil {
		return nil, translateInsertError("create root position", err)
	}
	return created, nil
}

func (s *PostgresStore) insertChild(ctx context.Context, pos *models.Position) (*models.Position, error) {
	conn := postgres.Conn(ctx, s.db)
	parentID := uuid.UUID(*pos.ParentID)

	if _, err := s.IncrementChildCount(ctx, *pos.ParentID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO matrix_positions
			(id, owner_id, tier_id, parent_id, root_id, depth, slot_index, capacity, child_count, lineage, slot_path, created_at)
		SELECT $1, $2, $3, p.id, p.root_id, p.depth + 1, $4, $5, 0,
			p.lineage || $1::uuid, p.slot_path || $4::int, $6
		FROM matrix_positions p
		WHERE p.id = $7 AND $4 < p.capacity
		RETURNING ` + positionColumns
	created, err := scanPosition(conn.QueryRowContext(ctx, query,
		uuid.UUID(pos.ID), uuid.UUID(pos.OwnerID), string(pos.TierID), pos.SlotIndex, pos.Capacity, pos.CreatedAt, parentID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "slot index outside parent capacity")
	}
	if err != nil {
		return nil, translateInsertError("create child position", err)
	}
	if created.Depth != pos.Depth {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "child depth must be parent depth + 1")
	}
	return created, nil
}

// explainFullParent distinguishes a missing parent from a full one after the
// conditional increment matched no row.
func (s *PostgresStore) explainFullParent(ctx context.Context, parentID uuid.UUID) error {
	var exists bool
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM matrix_positions WHERE id = $1)`, parentID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check parent: %w", err)
	}
	if !exists {
		return fmt.Errorf("parent %s: %w", parentID, sentinel.ErrNotFound)
	}
	return models.ErrCapacityExceeded
}

func translateInsertError(op string, err error) error {
	if constraint, ok := postgres.ConstraintViolation(err, postgres.UniqueViolation); ok {
		switch constraint {
		case constraintOwner:
			return models.ErrDuplicateOwner
		case constraintParentSlot, constraintRootSlot:
			return models.ErrDuplicateSlot
		default:
			return fmt.Errorf("%s: %w", op, sentinel.ErrAlreadyUsed)
		}
	}
	if constraint, ok := postgres.ConstraintViolation(err, postgres.CheckViolation); ok && constraint == constraintChildCount {
		return models.ErrCapacityExceeded
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) Get(ctx context.Context, positionID id.PositionID) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM matrix_positions WHERE id = $1`
	pos, err := scanPosition(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(positionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return pos, nil
}

func (s *PostgresStore) GetByOwner(ctx context.Context, ownerID id.OwnerID) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM matrix_positions WHERE owner_id = $1`
	pos, err := scanPosition(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(ownerID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get position by owner: %w", err)
	}
	return pos, nil
}

// GetMany loads positions by id in one round trip. Missing ids are skipped.
func (s *PostgresStore) GetMany(ctx context.Context, positionIDs []id.PositionID) ([]*models.Position, error) {
	if len(positionIDs) == 0 {
		return []*models.Position{}, nil
	}
	ids := make([]string, len(positionIDs))
	for i, positionID := range positionIDs {
		ids[i] = positionID.String()
	}
	query := `SELECT ` + positionColumns + ` FROM matrix_positions WHERE id = ANY($1::uuid[]) ORDER BY depth`
	return s.queryPositions(ctx, "get positions", query, pq.Array(ids))
}

func (s *PostgresStore) IncrementChildCount(ctx context.Context, parentID id.PositionID) (int, error) {
	var count int
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		UPDATE matrix_positions
		SET child_count = child_count + 1
		WHERE id = $1 AND child_count < capacity
		RETURNING child_count
	`, uuid.UUID(parentID)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, s.explainFullParent(ctx, uuid.UUID(parentID))
	}
	if err != nil {
		return 0, fmt.Errorf("increment child count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListChildren(ctx context.Context, parentID id.PositionID) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM matrix_positions WHERE parent_id = $1 ORDER BY slot_index`
	return s.queryPositions(ctx, "list children", query, uuid.UUID(parentID))
}

func (s *PostgresStore) ListRoots(ctx context.Context, offset, limit int) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM matrix_positions WHERE parent_id IS NULL ORDER BY slot_index OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryPositions(ctx, "list roots", query, args...)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM matrix_positions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return count, nil
}

// FindFirstOpen returns the first position at or below start, in breadth-first order
// with children by slot index, that still has a free slot. Ordering by (depth,
// slot_path) is exactly that order because sibling subtrees share the path prefix.
// A subtree with no free slot yields models.ErrCapacityExceeded.
func (s *PostgresStore) FindFirstOpen(ctx context.Context, start *models.Position) (*models.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM matrix_positions
		WHERE root_id = $1 AND depth >= $2 AND lineage @> ARRAY[$3::uuid] AND child_count < capacity
		ORDER BY depth, slot_path
		LIMIT 1`
	pos, err := scanPosition(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(start.RootID), start.Depth, uuid.UUID(start.ID),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrCapacityExceeded
		}
		return nil, fmt.Errorf("find first open position: %w", err)
	}
	return pos, nil
}

// CountDescendants counts the subtree below positionID using the lineage index.
func (s *PostgresStore) CountDescendants(ctx context.Context, positionID id.PositionID) (int, error) {
	var count int
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matrix_positions WHERE lineage @> ARRAY[$1::uuid] AND id <> $1`,
		uuid.UUID(positionID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count descendants: %w", err)
	}
	return count, nil
}

// LevelCounts returns descendant counts per relative depth 1..maxDepth.
func (s *PostgresStore) LevelCounts(ctx context.Context, start *models.Position, maxDepth int) ([]int, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT depth - $2, COUNT(*)
		FROM matrix_positions
		WHERE root_id = $1 AND depth > $2 AND depth <= $2 + $3 AND lineage @> ARRAY[$4::uuid]
		GROUP BY depth
		ORDER BY depth
	`, uuid.UUID(start.RootID), start.Depth, maxDepth, uuid.UUID(start.ID))
	if err != nil {
		return nil, fmt.Errorf("level counts: %w", err)
	}
	defer rows.Close()

	counts := make([]int, maxDepth)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scan level count: %w", err)
		}
		if level >= 1 && level <= maxDepth {
			counts[level-1] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate level counts: %w", err)
	}
	return trimLevels(counts), nil
}

// SubtreeDepth returns how many levels lie below start, without a depth cap.
func (s *PostgresStore) SubtreeDepth(ctx context.Context, start *models.Position) (int, error) {
	var depth int
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(depth), $2) - $2
		FROM matrix_positions
		WHERE root_id = $1 AND lineage @> ARRAY[$3::uuid]
	`, uuid.UUID(start.RootID), start.Depth, uuid.UUID(start.ID)).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("subtree depth: %w", err)
	}
	return depth, nil
}

func (s *PostgresStore) queryPositions(ctx context.Context, op, query string, args ...any) ([]*models.Position, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []*models.Position{}
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var (
		positionID, ownerID, rootID uuid.UUID
		parentID                    uuid.NullUUID
		tierID, lineage, path       string
		pos                         models.Position
	)
	err := row.Scan(
		&positionID, &ownerID, &tierID, &parentID, &rootID,
		&pos.Depth, &pos.SlotIndex, &pos.Capacity, &pos.ChildCount,
		&lineage, &path, &pos.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	pos.ID = id.PositionID(positionID)
	pos.OwnerID = id.OwnerID(ownerID)
	pos.TierID = id.TierID(tierID)
	pos.RootID = id.PositionID(rootID)
	if parentID.Valid {
		parent := id.PositionID(parentID.UUID)
		pos.ParentID = &parent
	}
	if pos.Path, err = models.ParsePath(path); err != nil {
		return nil, fmt.Errorf("decode slot path %q: %w", path, err)
	}
	if pos.Lineage, err = parseLineage(lineage); err != nil {
		return nil, err
	}
	pos.CreatedAt = pos.CreatedAt.UTC()
	return &pos, nil
}

func parseLineage(raw string) ([]id.PositionID, error) {
	parts := strings.Split(raw, ",")
	out := make([]id.PositionID, len(parts))
	for i, part := range parts {
		u, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("decode lineage %q: %w", raw, err)
		}
		out[i] = id.PositionID(u)
	}
	return out, nil
}

// trimLevels drops trailing empty levels so both stores report the same shape.
func trimLevels(counts []int) []int {
	end := len(counts)
	for end > 0 && counts[end-1] == 0 {
		end--
	}
	return counts[:end]
}
