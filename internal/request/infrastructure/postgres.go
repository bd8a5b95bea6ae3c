package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raktlink/platform/internal/request/domain"
	apperrors "github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/types"
)

// PostgresRepository implements domain.Repository backed by pgx
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new blood request repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const requestColumns = `
	id, requester_id, patient_name, blood_group, units, urgency,
	reason, additional_notes, hospital_name, hospital_address,
	hospital_lon, hospital_lat, status, search_radius_km,
	notified_donors, created_at, updated_at, expires_at
`

// Create inserts a new blood request
func (r *PostgresRepository) Create(ctx context.Context, req *domain.BloodRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blood_requests (
			id, requester_id, patient_name, blood_group, units, urgency,
			reason, additional_notes, hospital_name, hospital_address,
			hospital_lon, hospital_lat, status, search_radius_km,
			notified_donors, created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		req.ID, req.RequesterID, req.PatientName, req.BloodGroup, req.Units, req.Urgency,
		req.Reason, req.AdditionalNotes, req.Hospital.Name, req.Hospital.Address,
		req.Hospital.Location.Lon, req.Hospital.Location.Lat, req.Status, req.SearchRadiusKm,
		idStrings(req.NotifiedDonors), req.CreatedAt, req.UpdatedAt, req.ExpiresAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create blood request")
	}
	return nil
}

// Get loads a blood request, flipping it to expired first if its window
// has passed. The flip is persisted; reads are the expiry mechanism.
func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (*domain.BloodRequest, error) {
	_, err := r.pool.Exec(ctx, `
		UPDATE blood_requests
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND expires_at <= NOW()
	`, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to apply expiry")
	}

	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("blood request", id.String())
		}
		return nil, apperrors.Wrap(err, "failed to get blood request")
	}

	req.Donors, err = r.loadDonors(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// List returns blood requests matching the filter, newest first.
// Overdue active requests are flipped to expired before filtering.
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.BloodRequest, error) {
	_, err := r.pool.Exec(ctx, `
		UPDATE blood_requests
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_at <= NOW()
	`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to apply expiry")
	}

	query := `SELECT ` + requestColumns + ` FROM blood_requests`
	var conditions []string
	var args []any
	argN := 1

	addArg := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argN))
		args = append(args, val)
		argN++
	}

	if filter.Status != nil {
		addArg("status = $%d", *filter.Status)
	}
	if filter.BloodGroup != nil {
		addArg("blood_group = $%d", *filter.BloodGroup)
	}
	if filter.RequesterID != nil {
		addArg("requester_id = $%d", *filter.RequesterID)
	}
	if filter.Near != nil {
		cond := fmt.Sprintf(`
			6371 * 2 * asin(sqrt(
				power(sin(radians(hospital_lat - $%d) / 2), 2) +
				cos(radians($%d)) * cos(radians(hospital_lat)) *
				power(sin(radians(hospital_lon - $%d) / 2), 2)
			)) <= $%d`, argN, argN, argN+1, argN+2)
		conditions = append(conditions, cond)
		args = append(args, filter.Near.Center.Lat, filter.Near.Center.Lon, filter.Near.RadiusKm)
		argN += 3
	}

	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, filter.Limit)
		argN++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list blood requests")
	}
	defer rows.Close()

	var requests []*domain.BloodRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan blood request")
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate blood requests")
	}

	for _, req := range requests {
		req.Donors, err = r.loadDonors(ctx, r.pool, req.ID)
		if err != nil {
			return nil, err
		}
	}

	return requests, nil
}

// Mutate loads the request under SELECT FOR UPDATE, applies fn and
// persists the aggregate. The aggregate is persisted even when fn
// errors, so an expiry flip observed inside fn is not lost. Concurrent
// mutations serialize on the row lock.
func (r *PostgresRepository) Mutate(ctx context.Context, id types.ID, fn domain.MutateFunc) (*domain.BloodRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	req, err := r.lockRequest(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	fnErr := fn(req)

	if err := r.saveTx(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Wrap(err, "failed to commit transaction")
	}

	return req, fnErr
}

// CompleteDonation marks the donor's donation completed and records the
// donation and the donor's refreshed eligibility in the same transaction
func (r *PostgresRepository) CompleteDonation(ctx context.Context, id, donorID types.ID, now time.Time) (*domain.BloodRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	req, err := r.lockRequest(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	completeErr := req.Complete(donorID, now)

	if err := r.saveTx(ctx, tx, req); err != nil {
		return nil, err
	}

	if completeErr == nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO donation_history (id, donor_id, request_id, blood_group, donated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, types.NewID(), donorID, req.ID, req.BloodGroup, now)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to record donation")
		}

		_, err = tx.Exec(ctx, `
			UPDATE users
			SET last_donation = $2, is_eligible = FALSE, updated_at = NOW()
			WHERE id = $1
		`, donorID, now)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to refresh donor eligibility")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Wrap(err, "failed to commit transaction")
	}

	return req, completeErr
}

// --- internals ---

// lockRequest loads the aggregate with its row locked for the transaction
func (r *PostgresRepository) lockRequest(ctx context.Context, tx pgx.Tx, id types.ID) (*domain.BloodRequest, error) {
	row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE id = $1 FOR UPDATE`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("blood request", id.String())
		}
		return nil, apperrors.Wrap(err, "failed to lock blood request")
	}

	req.Donors, err = r.loadDonors(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// saveTx persists the aggregate's mutable fields and donor entries
func (r *PostgresRepository) saveTx(ctx context.Context, tx pgx.Tx, req *domain.BloodRequest) error {
	_, err := tx.Exec(ctx, `
		UPDATE blood_requests
		SET patient_name = $2, blood_group = $3, units = $4, urgency = $5,
		    reason = $6, additional_notes = $7, hospital_name = $8,
		    hospital_address = $9, hospital_lon = $10, hospital_lat = $11,
		    status = $12, search_radius_km = $13, notified_donors = $14,
		    updated_at = $15, expires_at = $16
		WHERE id = $1
	`,
		req.ID, req.PatientName, req.BloodGroup, req.Units, req.Urgency,
		req.Reason, req.AdditionalNotes, req.Hospital.Name,
		req.Hospital.Address, req.Hospital.Location.Lon, req.Hospital.Location.Lat,
		req.Status, req.SearchRadiusKm, idStrings(req.NotifiedDonors),
		req.UpdatedAt, req.ExpiresAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update blood request")
	}

	for _, entry := range req.Donors {
		_, err = tx.Exec(ctx, `
			INSERT INTO request_donors (request_id, donor_id, status, responded_at, completed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (request_id, donor_id)
			DO UPDATE SET status = EXCLUDED.status,
			              responded_at = EXCLUDED.responded_at,
			              completed_at = EXCLUDED.completed_at
		`, req.ID, entry.DonorID, entry.Status, entry.RespondedAt, entry.CompletedAt)
		if err != nil {
			return apperrors.Wrap(err, "failed to upsert donor entry")
		}
	}

	return nil
}

// querier is the subset of pgx shared by pool and transaction
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadDonors loads the donor entries of a request
func (r *PostgresRepository) loadDonors(ctx context.Context, q querier, id types.ID) ([]domain.DonorEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT donor_id, status, responded_at, completed_at
		FROM request_donors
		WHERE request_id = $1
		ORDER BY responded_at
	`, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query donor entries")
	}
	defer rows.Close()

	entries := []domain.DonorEntry{}
	for rows.Next() {
		var e domain.DonorEntry
		if err := rows.Scan(&e.DonorID, &e.Status, &e.RespondedAt, &e.CompletedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan donor entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanRequest scans one blood_requests row into the aggregate
func scanRequest(row pgx.Row) (*domain.BloodRequest, error) {
	var req domain.BloodRequest
	var notified []string

	err := row.Scan(
		&req.ID, &req.RequesterID, &req.PatientName, &req.BloodGroup, &req.Units, &req.Urgency,
		&req.Reason, &req.AdditionalNotes, &req.Hospital.Name, &req.Hospital.Address,
		&req.Hospital.Location.Lon, &req.Hospital.Location.Lat, &req.Status, &req.SearchRadiusKm,
		&notified, &req.CreatedAt, &req.UpdatedAt, &req.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	req.NotifiedDonors = make([]types.ID, len(notified))
	for i, s := range notified {
		req.NotifiedDonors[i] = types.ID(s)
	}
	return &req, nil
}

// idStrings converts IDs for the uuid[] column
func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
