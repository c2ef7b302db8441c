package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/printy-garments/api/internal/domain"
)

func newTestCatalogService(t *testing.T) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: &stubProductRepository{},
		Configs:  &stubConfigRepository{},
		Clock:    func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func tierConfig(tiers []VolumeTier) PersonalizationConfig {
	return PersonalizationConfig{
		Technique: domain.TechniqueDTF,
		Sizes: []PrintSize{
			{Name: "CARTA", WidthCM: 22, HeightCM: 29, Price: 9000},
		},
		MaxUnitsForFixedPrice: 6,
		VolumeTiers:           tiers,
		Locations: []PrintLocation{
			{ID: "chest_front", Name: "Pecho frente", MaxWidthCM: 30, MaxHeightCM: 40},
		},
	}
}

func TestUpsertPersonalizationConfigAcceptsContiguousTiers(t *testing.T) {
	svc := newTestCatalogService(t)
	max25 := 25.0
	max120 := 120.0

	cfg, err := svc.UpsertPersonalizationConfig(context.Background(), UpsertPersonalizationConfigCommand{
		Config: tierConfig([]VolumeTier{
			{MinMeters: 0, MaxMeters: &max25, PricePerM2: 20000},
			{MinMeters: 25, MaxMeters: &max120, PricePerM2: 18000},
			{MinMeters: 120, MaxMeters: nil, PricePerM2: 17000},
		}),
	})
	if err != nil {
		t.Fatalf("upsert contiguous tiers: %v", err)
	}
	if cfg.UpdatedAt.IsZero() {
		t.Fatalf("expected updated timestamp to be stamped")
	}
}

func TestUpsertPersonalizationConfigRejectsBrokenTierLadders(t *testing.T) {
	svc := newTestCatalogService(t)
	max10 := 10.0
	max25 := 25.0

	cases := []struct {
		name  string
		tiers []VolumeTier
	}{
		{
			name: "gap between tiers",
			tiers: []VolumeTier{
				{MinMeters: 0, MaxMeters: &max10, PricePerM2: 20000},
				{MinMeters: 20, MaxMeters: nil, PricePerM2: 18000},
			},
		},
		{
			name: "first tier starts above zero",
			tiers: []VolumeTier{
				{MinMeters: 5, MaxMeters: &max25, PricePerM2: 20000},
				{MinMeters: 25, MaxMeters: nil, PricePerM2: 18000},
			},
		},
		{
			name: "bounded final tier",
			tiers: []VolumeTier{
				{MinMeters: 0, MaxMeters: &max25, PricePerM2: 20000},
			},
		},
		{
			name: "tier after unbounded tier",
			tiers: []VolumeTier{
				{MinMeters: 0, MaxMeters: nil, PricePerM2: 20000},
				{MinMeters: 25, MaxMeters: nil, PricePerM2: 18000},
			},
		},
		{
			name: "overlapping tiers",
			tiers: []VolumeTier{
				{MinMeters: 0, MaxMeters: &max25, PricePerM2: 20000},
				{MinMeters: 10, MaxMeters: nil, PricePerM2: 18000},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpsertPersonalizationConfig(context.Background(), UpsertPersonalizationConfigCommand{
				Config: tierConfig(tc.tiers),
			})
			if !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected invalid input for %s, got %v", tc.name, err)
			}
		})
	}
}
