// Package his integrates an external hospital information system over
// SQL Server. It serves hospital directory lookups and polls the
// blood bank inventory, raising shortage alerts through the realtime
// dispatcher. The whole adapter is optional; the platform runs without
// it.
package his

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"

	"github.com/raktlink/platform/internal/request/domain"
	"github.com/raktlink/platform/internal/shared/config"
)

// Notifier raises shortage alerts to connected users
type Notifier interface {
	Shortage(bloodGroup string, hospital string, unitsAvailable int)
}

// Adapter connects to the hospital information system
type Adapter struct {
	db       *sql.DB
	cfg      config.HISConfig
	notifier Notifier

	mu        sync.Mutex
	lastUnits map[string]int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New connects to the HIS database
func New(cfg config.HISConfig, notifier Notifier) (*Adapter, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open HIS connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping HIS database: %w", err)
	}

	return &Adapter{
		db:        db,
		cfg:       cfg,
		notifier:  notifier,
		lastUnits: make(map[string]int),
		stop:      make(chan struct{}),
	}, nil
}

// Start begins polling the blood bank inventory
func (a *Adapter) Start() {
	interval := time.Duration(a.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.stop:
				return
			case <-ticker.C:
				if err := a.pollInventory(); err != nil {
					log.Printf("HIS inventory poll failed: %v", err)
				}
			}
		}
	}()
}

// Stop halts polling and closes the connection
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	a.wg.Wait()
	a.db.Close()
}

// Health checks the HIS connection
func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Lookup finds a hospital in the HIS directory by name. Used to enrich
// sparse hospital details on request creation.
func (a *Adapter) Lookup(ctx context.Context, name string) (*domain.Hospital, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT TOP 1 name, address, lon, lat
		FROM hospital_directory
		WHERE name = @p1
	`, name)

	var h domain.Hospital
	if err := row.Scan(&h.Name, &h.Address, &h.Location.Lon, &h.Location.Lat); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("hospital %q not found in directory", name)
		}
		return nil, fmt.Errorf("failed to look up hospital: %w", err)
	}
	return &h, nil
}

// pollInventory scans the blood bank stock and alerts on shortages.
// An alert fires when a hospital's stock for a group first drops to the
// threshold or below; it does not repeat until the stock recovers.
func (a *Adapter) pollInventory() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := a.db.QueryContext(ctx, `
		SELECT hospital_name, blood_group, units_available
		FROM blood_bank_inventory
	`)
	if err != nil {
		return fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	for rows.Next() {
		var hospital, group string
		var units int
		if err := rows.Scan(&hospital, &group, &units); err != nil {
			return fmt.Errorf("failed to scan inventory row: %w", err)
		}

		key := hospital + "/" + group
		previous, seen := a.lastUnits[key]
		a.lastUnits[key] = units

		if units > a.cfg.ShortageThreshold {
			continue
		}
		if seen && previous <= a.cfg.ShortageThreshold {
			continue
		}

		a.notifier.Shortage(group, hospital, units)
	}
	return rows.Err()
}
