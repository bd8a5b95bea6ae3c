package donor

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raktlink/platform/internal/matching"
	apperrors "github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/types"
)

// Repository provides access to donor profiles and donation history
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Donor, error)
	UpdateProfile(ctx context.Context, d *Donor) error
	SetDonorStatus(ctx context.Context, id types.ID, isDonor bool) error
	SetLocation(ctx context.Context, id types.ID, location types.GeoPoint, address string) error
	Donations(ctx context.Context, donorID types.ID) ([]Donation, error)
	RequestHistory(ctx context.Context, requesterID types.ID) ([]RequestRef, error)

	// FindEligibleDonors satisfies matching.DonorFinder
	FindEligibleDonors(ctx context.Context, groups []matching.BloodGroup, center types.GeoPoint, radiusKm float64, limit int) ([]matching.Candidate, error)
}

// PostgresRepository implements Repository backed by pgx
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new donor repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a donor profile by ID
func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (*Donor, error) {
	var d Donor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, blood_group, is_donor, is_eligible,
		       last_donation, lon, lat, address, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(
		&d.ID, &d.Name, &d.Phone, &d.BloodGroup, &d.IsDonor, &d.IsEligible,
		&d.LastDonation, &d.Location.Lon, &d.Location.Lat, &d.Address,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("donor", id.String())
		}
		return nil, apperrors.Wrap(err, "failed to get donor")
	}
	return &d, nil
}

// UpdateProfile updates the mutable profile fields
func (r *PostgresRepository) UpdateProfile(ctx context.Context, d *Donor) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET name = $2, phone = $3, blood_group = $4, address = $5, updated_at = NOW()
		WHERE id = $1
	`, d.ID, d.Name, d.Phone, d.BloodGroup, d.Address)
	if err != nil {
		return apperrors.Wrap(err, "failed to update donor profile")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("donor", d.ID.String())
	}
	return nil
}

// SetDonorStatus toggles whether the user is available as a donor
func (r *PostgresRepository) SetDonorStatus(ctx context.Context, id types.ID, isDonor bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET is_donor = $2, updated_at = NOW() WHERE id = $1
	`, id, isDonor)
	if err != nil {
		return apperrors.Wrap(err, "failed to set donor status")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("donor", id.String())
	}
	return nil
}

// SetLocation updates the donor's coordinates and address
func (r *PostgresRepository) SetLocation(ctx context.Context, id types.ID, location types.GeoPoint, address string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET lon = $2, lat = $3, address = $4, updated_at = NOW() WHERE id = $1
	`, id, location.Lon, location.Lat, address)
	if err != nil {
		return apperrors.Wrap(err, "failed to set donor location")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("donor", id.String())
	}
	return nil
}

// Donations returns the donor's donation history, newest first
func (r *PostgresRepository) Donations(ctx context.Context, donorID types.ID) ([]Donation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, donor_id, request_id, blood_group, donated_at
		FROM donation_history
		WHERE donor_id = $1
		ORDER BY donated_at DESC
	`, donorID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query donations")
	}
	defer rows.Close()

	var donations []Donation
	for rows.Next() {
		var dn Donation
		if err := rows.Scan(&dn.ID, &dn.DonorID, &dn.RequestID, &dn.BloodGroup, &dn.DonatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan donation")
		}
		donations = append(donations, dn)
	}
	return donations, rows.Err()
}

// RequestHistory returns the blood requests raised by the user, newest first
func (r *PostgresRepository) RequestHistory(ctx context.Context, requesterID types.ID) ([]RequestRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_name, blood_group, units, urgency, status, created_at, expires_at
		FROM blood_requests
		WHERE requester_id = $1
		ORDER BY created_at DESC
	`, requesterID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query request history")
	}
	defer rows.Close()

	var refs []RequestRef
	for rows.Next() {
		var ref RequestRef
		if err := rows.Scan(&ref.ID, &ref.PatientName, &ref.BloodGroup, &ref.Units,
			&ref.Urgency, &ref.Status, &ref.CreatedAt, &ref.ExpiresAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan request history")
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// FindEligibleDonors returns donors of the given groups within radiusKm
// of center, nearest first. Eligibility is recomputed from last_donation
// in the query rather than read from the cached flag.
func (r *PostgresRepository) FindEligibleDonors(ctx context.Context, groups []matching.BloodGroup, center types.GeoPoint, radiusKm float64, limit int) ([]matching.Candidate, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	groupStrings := make([]string, len(groups))
	for i, g := range groups {
		groupStrings[i] = string(g)
	}

	// Haversine distance on plain lon/lat columns
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, blood_group, lon, lat, distance_km FROM (
			SELECT id, name, blood_group, lon, lat,
			       6371 * 2 * asin(sqrt(
			           power(sin(radians(lat - $1) / 2), 2) +
			           cos(radians($1)) * cos(radians(lat)) *
			           power(sin(radians(lon - $2) / 2), 2)
			       )) AS distance_km
			FROM users
			WHERE is_donor = TRUE
			  AND blood_group = ANY($3)
			  AND (last_donation IS NULL OR last_donation < NOW() - INTERVAL '90 days')
		) d
		WHERE d.distance_km <= $4
		ORDER BY d.distance_km
		LIMIT $5
	`, center.Lat, center.Lon, groupStrings, radiusKm, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query eligible donors")
	}
	defer rows.Close()

	var candidates []matching.Candidate
	for rows.Next() {
		var c matching.Candidate
		if err := rows.Scan(&c.ID, &c.Name, &c.BloodGroup, &c.Location.Lon, &c.Location.Lat, &c.DistanceKm); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan candidate")
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
