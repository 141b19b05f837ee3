package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

//go:embed schema.sql
var schema string

const queryTimeout = 5 * time.Second

// PostgresStore is the Message Store backed by the messages table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables this service owns.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// One row per counterpart in a single statement, so the aggregate reads one snapshot.
const conversationsSQL = `
SELECT id, sender_id, receiver_id, content, property_id, is_read, created_at, other_user_id, unread_count
FROM (
    SELECT DISTINCT ON (other_user_id) *
    FROM (
        SELECT m.*,
            CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS other_user_id,
            COUNT(*) FILTER (WHERE m.receiver_id = $1 AND NOT m.is_read)
                OVER (PARTITION BY CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END) AS unread_count
        FROM messages m
        WHERE m.sender_id = $1 OR m.receiver_id = $1
    ) t
    ORDER BY other_user_id, created_at DESC, id DESC
) latest
ORDER BY created_at DESC, other_user_id ASC
LIMIT $2`

func (s *PostgresStore) ListConversationPartners(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, conversationsSQL, userID, lim)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []domain.Conversation{}
	for rows.Next() {
		var c domain.Conversation
		m := &c.LastMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.PropertyID, &m.IsRead, &m.CreatedAt,
			&c.CounterpartID, &c.UnreadCount); err != nil {
			return nil, classify(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

const messagesSQL = `
SELECT id, sender_id, receiver_id, content, property_id, is_read, created_at
FROM messages
WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
  AND ($3::text IS NULL OR property_id = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`

func (s *PostgresStore) ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	page := q.Page.Normalize()
	rows, err := s.pool.Query(ctx, messagesSQL, q.UserID, q.CounterpartID, q.PropertyID, page.Limit, page.Offset())
	if err != nil {
		return nil, classify(err)
	}
	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, classify(err)
	}
	// newest-first window, returned oldest first
	return lo.Reverse(msgs), nil
}

func scanMessage(row pgx.CollectableRow) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.PropertyID, &m.IsRead, &m.CreatedAt)
	return m, err
}

// Create is bounded by the caller's deadline.
func (s *PostgresStore) Create(ctx context.Context, nm domain.NewMessage) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, content, property_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, sender_id, receiver_id, content, property_id, is_read, created_at`,
		newMessageID(), nm.SenderID, nm.ReceiverID, nm.Content, nm.PropertyID)

	var m domain.Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.PropertyID, &m.IsRead, &m.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, messageID, receiverID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `UPDATE messages SET is_read = TRUE WHERE id = $1 AND receiver_id = $2`, messageID, receiverID)
	return classify(err)
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, userID, counterpartID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read`,
		userID, counterpartID)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, messageID, senderID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1 AND sender_id = $2`, messageID, senderID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read`, userID).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

// PostgresProfiles reads profile summaries from the users table owned by the user service.
type PostgresProfiles struct {
	pool *pgxpool.Pool
}

func NewPostgresProfiles(pool *pgxpool.Pool) *PostgresProfiles {
	return &PostgresProfiles{pool: pool}
}

func (p *PostgresProfiles) Profiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	out := make(map[string]domain.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
		SELECT id::text, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(avatar_url, '')
		FROM users WHERE id::text = ANY($1)`, lo.Uniq(userIDs))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var pr domain.Profile
		if err := rows.Scan(&pr.UserID, &pr.FirstName, &pr.LastName, &pr.AvatarURL); err != nil {
			return nil, classify(err)
		}
		out[pr.UserID] = pr
	}
	return out, classify(rows.Err())
}

type PostgresNotifications struct {
	pool *pgxpool.Pool
}

func NewPostgresNotifications(pool *pgxpool.Pool) *PostgresNotifications {
	return &PostgresNotifications{pool: pool}
}

func (r *PostgresNotifications) CreateNotification(ctx context.Context, n *domain.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		n.ID, n.UserID, n.Title, n.Message, string(n.Type), n.ReferenceID).Scan(&n.CreatedAt)
	return classify(err)
}

// classify maps driver errors onto the domain taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: referenced resource does not exist", domain.ErrValidation)
		case "22P02":
			return fmt.Errorf("%w: %s", domain.ErrValidation, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
}
