package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dranzer-17/TripSync/internal/apperr"
	"github.com/dranzer-17/TripSync/internal/models"
)

// PostgresStore implements Store on PostgreSQL. Conditional transitions
// are plain UPDATEs guarded by the expected current status; the winner
// of a race is decided by RowsAffected.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle; used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestCols = `id, owner_id, status, start_lat, start_lng, dest_lat, dest_lng, dest_label, created_at`

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.Request) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE ride_requests SET status = $1 WHERE owner_id = $2 AND status = $3`,
		models.RequestCancelled, r.OwnerID, models.RequestActive,
	); err != nil {
		return fmt.Errorf("cancelling prior active request: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ride_requests (`+requestCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.OwnerID, r.Status,
		r.Start.Lat, r.Start.Lng, r.Dest.Lat, r.Dest.Lng,
		nullableString(r.DestLabel), r.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+requestCols+` FROM ride_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) ActiveCandidates(ctx context.Context, collegeID int64, excludeOwner uuid.UUID, since time.Time) ([]models.Candidate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.owner_id, r.status, r.start_lat, r.start_lng, r.dest_lat, r.dest_lng, r.dest_label, r.created_at,
		       u.id, u.college_id, u.full_name, u.email, u.phone_number, u.year_of_study, u.bio, u.profile_image_url
		FROM ride_requests r
		JOIN users u ON u.id = r.owner_id
		WHERE r.status = $1 AND r.owner_id <> $2 AND u.college_id = $3 AND r.created_at >= $4
		ORDER BY r.created_at ASC`,
		models.RequestActive, excludeOwner, collegeID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		var (
			c         models.Candidate
			destLabel sql.NullString
			email     sql.NullString
			phone     sql.NullString
			year      sql.NullString
			bio       sql.NullString
			image     sql.NullString
		)
		if err := rows.Scan(
			&c.Request.ID, &c.Request.OwnerID, &c.Request.Status,
			&c.Request.Start.Lat, &c.Request.Start.Lng,
			&c.Request.Dest.Lat, &c.Request.Dest.Lng,
			&destLabel, &c.Request.CreatedAt,
			&c.Owner.ID, &c.Owner.CollegeID, &c.Owner.FullName,
			&email, &phone, &year, &bio, &image,
		); err != nil {
			return nil, err
		}
		c.Request.DestLabel = destLabel.String
		c.Owner.Email = email.String
		c.Owner.Phone = phone.String
		c.Owner.YearOfStudy = year.String
		c.Owner.Bio = bio.String
		c.Owner.ProfileImageURL = image.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ClaimMatch(ctx context.Context, requesterRequestID, candidateRequestID uuid.UUID) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE ride_requests SET status = $1 WHERE id = $2 AND status = $3`,
		models.RequestMatched, candidateRequestID, models.RequestActive)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// candidate claimed by a concurrent search
		return false, nil
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE ride_requests SET status = $1 WHERE id = $2 AND status = ANY($3)`,
		models.RequestMatched, requesterRequestID,
		pq.Array([]string{string(models.RequestActive), string(models.RequestMatched)}))
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PostgresStore) UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE ride_requests SET status = $1 WHERE id = $2 AND status = ANY($3)`,
		to, id, pq.Array(fromStrs))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) ConnectedRequestByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Request, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+requestCols+` FROM ride_requests
		 WHERE owner_id = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT 1`,
		ownerID, models.RequestConnected)
	return scanRequest(row)
}

const connectionCols = `id, sender_request_id, receiver_request_id, status, created_at, responded_at`

func (p *PostgresStore) CreateConnection(ctx context.Context, c *models.Connection) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO connections (`+connectionCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.SenderRequestID, c.ReceiverRequestID, c.Status, c.CreatedAt, c.RespondedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("a connection for this request pair is already open")
	}
	return err
}

func (p *PostgresStore) GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+connectionCols+` FROM connections WHERE id = $1`, id)
	return scanConnection(row)
}

func (p *PostgresStore) OpenConnectionForPair(ctx context.Context, a, b uuid.UUID) (*models.Connection, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+connectionCols+` FROM connections
		 WHERE status <> $1
		   AND ((sender_request_id = $2 AND receiver_request_id = $3)
		     OR (sender_request_id = $3 AND receiver_request_id = $2))
		 LIMIT 1`,
		models.ConnectionRejected, a, b)
	return scanConnection(row)
}

func (p *PostgresStore) CountPendingFromSender(ctx context.Context, senderRequestID uuid.UUID) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM connections WHERE sender_request_id = $1 AND status = $2`,
		senderRequestID, models.ConnectionPending).Scan(&n)
	return n, err
}

func (p *PostgresStore) UpdateConnectionStatus(ctx context.Context, id uuid.UUID, from, to models.ConnectionStatus, respondedAt time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE connections SET status = $1, responded_at = $2 WHERE id = $3 AND status = $4`,
		to, respondedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) ApproveConnection(ctx context.Context, connectionID, senderRequestID, receiverRequestID uuid.UUID) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE connections SET status = $1, responded_at = $2 WHERE id = $3 AND status = $4`,
		models.ConnectionApproved, time.Now().UTC(), connectionID, models.ConnectionPending)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	connectableStatuses := pq.Array([]string{string(models.RequestActive), string(models.RequestMatched)})
	for _, reqID := range []uuid.UUID{senderRequestID, receiverRequestID} {
		res, err := tx.ExecContext(ctx,
			`UPDATE ride_requests SET status = $1 WHERE id = $2 AND status = ANY($3)`,
			models.RequestConnected, reqID, connectableStatuses)
		if err != nil {
			return false, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PostgresStore) SeverConnection(ctx context.Context, connectionID, partnerRequestID uuid.UUID) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE connections SET status = $1, responded_at = $2 WHERE id = $3 AND status = $4`,
		models.ConnectionRejected, time.Now().UTC(), connectionID, models.ConnectionApproved)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ride_requests SET status = $1 WHERE id = $2 AND status = $3`,
		models.RequestCancelled, partnerRequestID, models.RequestConnected,
	); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PostgresStore) RejectPendingForRequest(ctx context.Context, requestID uuid.UUID) ([]models.Connection, error) {
	rows, err := p.db.QueryContext(ctx,
		`UPDATE connections SET status = $1, responded_at = $2
		 WHERE (sender_request_id = $3 OR receiver_request_id = $3) AND status = $4
		 RETURNING `+connectionCols,
		models.ConnectionRejected, time.Now().UTC(), requestID, models.ConnectionPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Connection
	for rows.Next() {
		var (
			c           models.Connection
			respondedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.SenderRequestID, &c.ReceiverRequestID, &c.Status, &c.CreatedAt, &respondedAt); err != nil {
			return nil, err
		}
		if respondedAt.Valid {
			t := respondedAt.Time
			c.RespondedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ApprovedConnectionForRequest(ctx context.Context, requestID uuid.UUID) (*models.Connection, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+connectionCols+` FROM connections
		 WHERE (sender_request_id = $1 OR receiver_request_id = $1) AND status = $2
		 LIMIT 1`,
		requestID, models.ConnectionApproved)
	return scanConnection(row)
}

func (p *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var (
		u     models.User
		email sql.NullString
		phone sql.NullString
		year  sql.NullString
		bio   sql.NullString
		image sql.NullString
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, college_id, full_name, email, phone_number, year_of_study, bio, profile_image_url
		 FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.CollegeID, &u.FullName, &email, &phone, &year, &bio, &image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Phone = phone.String
	u.YearOfStudy = year.String
	u.Bio = bio.String
	u.ProfileImageURL = image.String
	return &u, nil
}

func scanRequest(row *sql.Row) (*models.Request, error) {
	var (
		r         models.Request
		destLabel sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.Status,
		&r.Start.Lat, &r.Start.Lng, &r.Dest.Lat, &r.Dest.Lng,
		&destLabel, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.DestLabel = destLabel.String
	return &r, nil
}

func scanConnection(row *sql.Row) (*models.Connection, error) {
	var (
		c           models.Connection
		respondedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.SenderRequestID, &c.ReceiverRequestID, &c.Status, &c.CreatedAt, &respondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		c.RespondedAt = &t
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
