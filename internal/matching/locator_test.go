package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/raktlink/platform/internal/shared/types"
)

type fakeFinder struct {
	gotGroups []BloodGroup
	gotRadius float64
	gotLimit  int
	donors    []Candidate
	calls     int
}

func (f *fakeFinder) FindEligibleDonors(_ context.Context, groups []BloodGroup, _ types.GeoPoint, radiusKm float64, limit int) ([]Candidate, error) {
	f.calls++
	f.gotGroups = groups
	f.gotRadius = radiusKm
	f.gotLimit = limit
	if len(f.donors) > limit {
		return f.donors[:limit], nil
	}
	return f.donors, nil
}

func TestLocatePassesCompatibleGroups(t *testing.T) {
	finder := &fakeFinder{}
	locator := NewLocator(finder, 0)

	_, err := locator.Locate(context.Background(), ANegative, types.GeoPoint{Lon: 77.59, Lat: 12.97}, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(finder.gotGroups) != 2 {
		t.Fatalf("expected 2 compatible groups for A-, got %v", finder.gotGroups)
	}
	if finder.gotRadius != 7 {
		t.Errorf("radius = %v, want 7", finder.gotRadius)
	}
	if finder.gotLimit != DefaultFanOutCap {
		t.Errorf("limit = %d, want default cap %d", finder.gotLimit, DefaultFanOutCap)
	}
}

func TestLocateUnknownGroupSkipsQuery(t *testing.T) {
	finder := &fakeFinder{}
	locator := NewLocator(finder, 50)

	got, err := locator.Locate(context.Background(), "X+", types.GeoPoint{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no candidates, got %d", len(got))
	}
	if finder.calls != 0 {
		t.Error("finder should not be queried for an unknown group")
	}
}

func TestLocateRespectsFanOutCap(t *testing.T) {
	finder := &fakeFinder{}
	for i := 0; i < 30; i++ {
		finder.donors = append(finder.donors, Candidate{
			ID:         types.ID(fmt.Sprintf("00000000-0000-0000-0000-%012d", i)),
			BloodGroup: ONegative,
		})
	}
	locator := NewLocator(finder, 10)

	got, err := locator.Locate(context.Background(), OPositive, types.GeoPoint{}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("expected cap of 10 candidates, got %d", len(got))
	}
	if finder.gotLimit != 10 {
		t.Errorf("limit passed to finder = %d, want 10", finder.gotLimit)
	}
}
