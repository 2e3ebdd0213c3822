package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/example/robin/internal/persistence"
)

// timestampLayout is fixed width so stored timestamps sort lexicographically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultPageSize is the number of rooms fetched per page by the ripe-room queries.
const DefaultPageSize = 100

const roomColumns = `id, level, state, prompted, disposition, merged_into, created_at, updated_at, reaped_at`

// RoomRepository implements persistence.RoomRepository using SQLite
type RoomRepository struct {
	pool     *ConnectionPool
	mapper   *ErrorMapper
	retry    *RetryHelper
	pageSize int
	now      func() time.Time
}

// NewRoomRepository creates a new SQLite room repository. A non-positive
// pageSize selects DefaultPageSize.
func NewRoomRepository(pool *ConnectionPool, pageSize int) *RoomRepository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &RoomRepository{
		pool:     pool,
		mapper:   NewErrorMapper(),
		retry:    NewRetryHelper(DefaultRetryConfig()),
		pageSize: pageSize,
		now:      time.Now,
	}
}

// CreateRoom inserts a new room. A zero CreatedAt is replaced by the current time.
func (r *RoomRepository) CreateRoom(ctx context.Context, room persistence.Room) error {
	if strings.TrimSpace(room.ID) == "" || room.Level < 0 {
		return persistence.ErrConstraintViolation
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = r.now()
	}
	if room.State == "" {
		room.State = persistence.RoomStateActive
	}
	room.UpdatedAt = r.now()

	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, `
			INSERT INTO rooms (id, level, state, prompted, disposition, merged_into, created_at, updated_at, reaped_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			room.ID,
			room.Level,
			string(room.State),
			boolToInt(room.Prompted),
			string(room.Disposition),
			nullString(room.MergedInto),
			formatTimestamp(room.CreatedAt),
			formatTimestamp(room.UpdatedAt),
			nullTimestamp(room.ReapedAt),
		)
		return err
	})
}

// GetRoom retrieves a room by ID
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	if id == "" {
		return persistence.Room{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	room, err := scanRoom(row)
	if err != nil {
		return persistence.Room{}, r.mapper.MapError(err)
	}
	return room, nil
}

// AddParticipants adds users to a room. Users already present are ignored.
func (r *RoomRepository) AddParticipants(ctx context.Context, roomID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	joinedAt := formatTimestamp(r.now())
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := lockRoom(ctx, tx, roomID); err != nil {
				return err
			}
			for _, userID := range userIDs {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at)
					VALUES (?, ?, ?)
				`, roomID, userID, joinedAt); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// ListParticipants returns the participants of a room ordered by user ID.
func (r *RoomRepository) ListParticipants(ctx context.Context, roomID string) ([]string, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY user_id ASC
	`, roomID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, r.mapper.MapError(err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return users, nil
}

// CastVote records or replaces a participant's vote.
func (r *RoomRepository) CastVote(ctx context.Context, vote persistence.Vote) error {
	if vote.CastAt.IsZero() {
		vote.CastAt = r.now()
	}
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRowContext(ctx, `
				SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?
			`, vote.RoomID, vote.UserID).Scan(&exists)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: %s is not a participant of %s", persistence.ErrConstraintViolation, vote.UserID, vote.RoomID)
				}
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO room_votes (room_id, user_id, vote, cast_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (room_id, user_id) DO UPDATE SET vote = excluded.vote, cast_at = excluded.cast_at
			`, vote.RoomID, vote.UserID, vote.Choice, formatTimestamp(vote.CastAt))
			return err
		})
	})
}

// RoomsRipeForPrompting yields active, unprompted rooms created at or before cutoff.
func (r *RoomRepository) RoomsRipeForPrompting(ctx context.Context, cutoff time.Time) iter.Seq2[persistence.Room, error] {
	return r.paginate(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE state = 'active' AND prompted = 0 AND created_at <= ?
		  AND (created_at, id) > (?, ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, cutoff)
}

// RoomsRipeForReaping yields rooms that are not yet reaped and were created
// at or before cutoff.
func (r *RoomRepository) RoomsRipeForReaping(ctx context.Context, cutoff time.Time) iter.Seq2[persistence.Room, error] {
	return r.paginate(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE state != 'reaped' AND created_at <= ?
		  AND (created_at, id) > (?, ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, cutoff)
}

// paginate walks query with a keyset cursor. Each page is read completely
// before rows are yielded so callers may write to the database while iterating.
func (r *RoomRepository) paginate(ctx context.Context, query string, cutoff time.Time) iter.Seq2[persistence.Room, error] {
	return func(yield func(persistence.Room, error) bool) {
		cutoffStr := formatTimestamp(cutoff)
		lastCreatedAt, lastID := "", ""

		for {
			page, err := r.fetchPage(ctx, query, cutoffStr, lastCreatedAt, lastID)
			if err != nil {
				yield(persistence.Room{}, err)
				return
			}
			for _, room := range page {
				if !yield(room, nil) {
					return
				}
			}
			if len(page) < r.pageSize {
				return
			}
			last := page[len(page)-1]
			lastCreatedAt, lastID = formatTimestamp(last.CreatedAt), last.ID
		}
	}
}

func (r *RoomRepository) fetchPage(ctx context.Context, query, cutoff, lastCreatedAt, lastID string) ([]persistence.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := r.pool.DB().QueryContext(ctx, query, cutoff, lastCreatedAt, lastID, r.pageSize)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	page := make([]persistence.Room, 0, r.pageSize)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		page = append(page, room)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return page, nil
}

// MarkPrompted flags an active room as prompted.
func (r *RoomRepository) MarkPrompted(ctx context.Context, roomID string) error {
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			room, err := lockRoom(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if room.State != persistence.RoomStateActive || room.Prompted {
				return fmt.Errorf("%w: room %s is %s", persistence.ErrStateConflict, roomID, room.State)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE rooms SET prompted = 1, state = 'prompted', updated_at = ? WHERE id = ?
			`, formatTimestamp(r.now()), roomID)
			return err
		})
	})
}

// GetVotes returns every participant of the room mapped to the raw stored
// vote. Participants without a stored vote map to the empty string.
func (r *RoomRepository) GetVotes(ctx context.Context, roomID string) (map[string]string, error) {
	if _, err := r.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT p.user_id, COALESCE(v.vote, '')
		FROM room_participants p
		LEFT JOIN room_votes v ON v.room_id = p.room_id AND v.user_id = p.user_id
		WHERE p.room_id = ?
	`, roomID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	votes := make(map[string]string)
	for rows.Next() {
		var userID, vote string
		if err := rows.Scan(&userID, &vote); err != nil {
			return nil, r.mapper.MapError(err)
		}
		votes[userID] = vote
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return votes, nil
}

// RemoveParticipants removes users and their votes from a room that has not been reaped.
func (r *RoomRepository) RemoveParticipants(ctx context.Context, roomID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			room, err := lockRoom(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if room.State == persistence.RoomStateReaped {
				return fmt.Errorf("%w: room %s already reaped", persistence.ErrStateConflict, roomID)
			}
			for _, userID := range userIDs {
				if _, err := tx.ExecContext(ctx, `DELETE FROM room_votes WHERE room_id = ? AND user_id = ?`, roomID, userID); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM room_participants WHERE room_id = ? AND user_id = ?`, roomID, userID); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// MarkContinued reaps the room as continued and clears its votes.
func (r *RoomRepository) MarkContinued(ctx context.Context, roomID string) error {
	return r.reap(ctx, roomID, persistence.DispositionContinued)
}

// MarkAbandoned reaps the room as abandoned.
func (r *RoomRepository) MarkAbandoned(ctx context.Context, roomID string) error {
	return r.reap(ctx, roomID, persistence.DispositionAbandoned)
}

func (r *RoomRepository) reap(ctx context.Context, roomID string, disposition persistence.Disposition) error {
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			room, err := lockRoom(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if room.State == persistence.RoomStateReaped {
				return fmt.Errorf("%w: room %s already reaped", persistence.ErrStateConflict, roomID)
			}
			now := formatTimestamp(r.now())
			if _, err := tx.ExecContext(ctx, `
				UPDATE rooms SET state = 'reaped', disposition = ?, reaped_at = ?, updated_at = ? WHERE id = ?
			`, string(disposition), now, now, roomID); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `DELETE FROM room_votes WHERE room_id = ?`, roomID)
			return err
		})
	})
}

// MergeRooms creates merged from the union of both rooms' participants and
// marks both source rooms as merged into it, in a single transaction.
func (r *RoomRepository) MergeRooms(ctx context.Context, firstID, secondID string, merged persistence.Room) (persistence.Room, error) {
	if firstID == secondID {
		return persistence.Room{}, fmt.Errorf("%w: room %s cannot merge with itself", persistence.ErrConstraintViolation, firstID)
	}
	if strings.TrimSpace(merged.ID) == "" {
		return persistence.Room{}, persistence.ErrConstraintViolation
	}
	now := r.now()
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = now
	}
	merged.UpdatedAt = now
	merged.State = persistence.RoomStateActive
	merged.Prompted = false
	merged.Disposition = persistence.DispositionNone
	merged.MergedInto = nil
	merged.ReapedAt = nil

	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			first, err := lockRoom(ctx, tx, firstID)
			if err != nil {
				return err
			}
			second, err := lockRoom(ctx, tx, secondID)
			if err != nil {
				return err
			}
			if first.State == persistence.RoomStateReaped || second.State == persistence.RoomStateReaped {
				return fmt.Errorf("%w: cannot merge reaped rooms %s and %s", persistence.ErrStateConflict, firstID, secondID)
			}
			if first.Level != second.Level {
				return fmt.Errorf("%w: rooms %s and %s have different levels", persistence.ErrConstraintViolation, firstID, secondID)
			}

			stamp := formatTimestamp(now)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rooms (id, level, state, prompted, disposition, merged_into, created_at, updated_at, reaped_at)
				VALUES (?, ?, 'active', 0, '', NULL, ?, ?, NULL)
			`, merged.ID, merged.Level, formatTimestamp(merged.CreatedAt), stamp); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at)
				SELECT ?, user_id, ? FROM room_participants WHERE room_id IN (?, ?)
			`, merged.ID, stamp, firstID, secondID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE rooms
				SET state = 'reaped', disposition = 'merged', merged_into = ?, reaped_at = ?, updated_at = ?
				WHERE id IN (?, ?)
			`, merged.ID, stamp, stamp, firstID, secondID); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `DELETE FROM room_votes WHERE room_id IN (?, ?)`, firstID, secondID)
			return err
		})
	})
	if err != nil {
		return persistence.Room{}, err
	}
	return r.GetRoom(ctx, merged.ID)
}

// SweepDeadRooms archives abandoned and merged rooms into dead_rooms and
// deletes them together with their participants and votes.
func (r *RoomRepository) SweepDeadRooms(ctx context.Context) (int, error) {
	var swept int
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			const dead = `state = 'reaped' AND disposition IN ('abandoned', 'merged')`
			result, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO dead_rooms (id, level, disposition, merged_into, created_at, reaped_at, swept_at)
				SELECT id, level, disposition, merged_into, created_at, COALESCE(reaped_at, updated_at), ?
				FROM rooms WHERE `+dead, formatTimestamp(r.now()))
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			for _, stmt := range []string{
				`DELETE FROM room_votes WHERE room_id IN (SELECT id FROM rooms WHERE ` + dead + `)`,
				`DELETE FROM room_participants WHERE room_id IN (SELECT id FROM rooms WHERE ` + dead + `)`,
				`DELETE FROM rooms WHERE ` + dead,
			} {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			swept = int(affected)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return swept, nil
}

// ListDeadRooms returns archived rooms ordered by sweep time then ID.
func (r *RoomRepository) ListDeadRooms(ctx context.Context) ([]persistence.DeadRoom, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT id, level, disposition, merged_into, created_at, reaped_at, swept_at
		FROM dead_rooms
		ORDER BY swept_at ASC, id ASC
	`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var rooms []persistence.DeadRoom
	for rows.Next() {
		var room persistence.DeadRoom
		var disposition, createdAt, reapedAt, sweptAt string
		var mergedInto sql.NullString
		if err := rows.Scan(&room.ID, &room.Level, &disposition, &mergedInto, &createdAt, &reapedAt, &sweptAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		room.Disposition = persistence.Disposition(disposition)
		if mergedInto.Valid {
			value := mergedInto.String
			room.MergedInto = &value
		}
		if room.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if room.ReapedAt, err = parseTimestamp(reapedAt); err != nil {
			return nil, fmt.Errorf("failed to parse reaped_at: %w", err)
		}
		if room.SweptAt, err = parseTimestamp(sweptAt); err != nil {
			return nil, fmt.Errorf("failed to parse swept_at: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return rooms, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func lockRoom(ctx context.Context, tx *sql.Tx, roomID string) (persistence.Room, error) {
	room, err := scanRoom(tx.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, roomID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Room{}, fmt.Errorf("room %s: %w", roomID, persistence.ErrNotFound)
		}
		return persistence.Room{}, err
	}
	return room, nil
}

func scanRoom(row rowScanner) (persistence.Room, error) {
	var room persistence.Room
	var state, disposition, createdAt, updatedAt string
	var prompted int
	var mergedInto, reapedAt sql.NullString

	if err := row.Scan(
		&room.ID,
		&room.Level,
		&state,
		&prompted,
		&disposition,
		&mergedInto,
		&createdAt,
		&updatedAt,
		&reapedAt,
	); err != nil {
		return persistence.Room{}, err
	}

	room.State = persistence.RoomState(state)
	room.Prompted = prompted != 0
	room.Disposition = persistence.Disposition(disposition)
	if mergedInto.Valid {
		value := mergedInto.String
		room.MergedInto = &value
	}

	var err error
	if room.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Room{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if room.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Room{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if reapedAt.Valid {
		parsed, err := parseTimestamp(reapedAt.String)
		if err != nil {
			return persistence.Room{}, fmt.Errorf("failed to parse reaped_at: %w", err)
		}
		room.ReapedAt = &parsed
	}
	return room, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	return time.Parse(timestampLayout, value)
}

func nullTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
