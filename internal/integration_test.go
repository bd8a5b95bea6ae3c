package internal

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/request/domain"
	"github.com/raktlink/platform/internal/request/infrastructure"
	"github.com/raktlink/platform/internal/shared/database"
	apperrors "github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/types"
)

// testPool connects to the database named by TEST_DATABASE_DSN and runs
// the migrations. Tests that need it are skipped when the variable is
// not set.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping database test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return pool
}

// seedUser inserts a minimal user row and registers its cleanup
func seedUser(t *testing.T, pool *pgxpool.Pool, id types.ID, bloodGroup matching.BloodGroup, isDonor bool) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, name, blood_group, is_donor, lon, lat)
		VALUES ($1, $2, $3, $4, 77.59, 12.97)
	`, id, "Test User "+id.String()[:8], bloodGroup, isDonor)
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	})
}

// TestConcurrentAcceptsDoNotOversubscribe fires two simultaneous
// accepts at a single-unit request. The row lock in the repository must
// serialize them: exactly one accept counts toward the quota and the
// other is rejected against the fulfilled request.
func TestConcurrentAcceptsDoNotOversubscribe(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := infrastructure.NewPostgresRepository(pool)

	requester := types.NewID()
	donor1 := types.NewID()
	donor2 := types.NewID()
	seedUser(t, pool, requester, matching.APositive, false)
	seedUser(t, pool, donor1, matching.ONegative, true)
	seedUser(t, pool, donor2, matching.ONegative, true)

	req, err := domain.NewBloodRequest(
		requester, "Asha", matching.APositive, 1, domain.UrgencyHigh,
		"surgery", "", domain.Hospital{
			Name:     "City General",
			Location: types.GeoPoint{Lon: 77.59, Lat: 12.97},
		}, time.Now(),
	)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Failed to persist request: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM request_donors WHERE request_id = $1`, req.ID)
		pool.Exec(ctx, `DELETE FROM blood_requests WHERE id = $1`, req.ID)
	})

	accept := func(donorID types.ID) error {
		_, err := repo.Mutate(ctx, req.ID, func(r *domain.BloodRequest) error {
			return r.Respond(donorID, domain.ResponseAccepted, time.Now())
		})
		return err
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, donorID := range []types.ID{donor1, donor2} {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			results <- accept(id)
		}(donorID)
	}
	wg.Wait()
	close(results)

	var accepted, rejected int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, apperrors.ErrStateConflict):
			rejected++
		default:
			t.Fatalf("Unexpected error from accept: %v", err)
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("Expected exactly one accept and one rejection, got %d accepts and %d rejections",
			accepted, rejected)
	}

	got, err := repo.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Failed to reload request: %v", err)
	}
	if got.Status != domain.StatusFulfilled {
		t.Errorf("Request should be fulfilled, got %s", got.Status)
	}
	if got.AcceptedCount() != 1 {
		t.Errorf("Quota should hold exactly one accept, got %d", got.AcceptedCount())
	}
}
