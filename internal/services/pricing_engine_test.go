package services

import (
	"errors"
	"strings"
	"testing"

	domain "github.com/printy-garments/api/internal/domain"
)

func dtfTestConfig() PersonalizationConfig {
	max25 := 25.0
	max120 := 120.0
	return PersonalizationConfig{
		Technique: domain.TechniqueDTF,
		Sizes: []PrintSize{
			{Name: "BOLSILLERO", WidthCM: 9, HeightCM: 9, Price: 4000},
			{Name: "CARTA", WidthCM: 22, HeightCM: 29, Price: 9000},
			{Name: "TABLOIDE", WidthCM: 29, HeightCM: 42, Price: 14000},
		},
		MaxUnitsForFixedPrice: 6,
		VolumeTiers: []VolumeTier{
			{MinMeters: 0, MaxMeters: &max25, PricePerM2: 20000},
			{MinMeters: 25, MaxMeters: &max120, PricePerM2: 18000},
			{MinMeters: 120, MaxMeters: nil, PricePerM2: 17000},
		},
		Locations: []PrintLocation{
			{ID: "chest_front", Name: "Pecho frente", MaxWidthCM: 30, MaxHeightCM: 40},
			{ID: "back_center", Name: "Espalda centro", MaxWidthCM: 40, MaxHeightCM: 50},
		},
	}
}

func TestPriceCustomizationFixedPrice(t *testing.T) {
	engine := NewPricingEngine()
	cfg := dtfTestConfig()

	cases := []struct {
		name         string
		size         string
		quantity     int
		wantUnit     int64
		wantSubtotal int64
	}{
		{name: "bolsillero five units", size: "BOLSILLERO", quantity: 5, wantUnit: 4000, wantSubtotal: 20000},
		{name: "carta three units", size: "CARTA", quantity: 3, wantUnit: 9000, wantSubtotal: 27000},
		{name: "tabloide four units", size: "TABLOIDE", quantity: 4, wantUnit: 14000, wantSubtotal: 56000},
		{name: "at fixed ceiling", size: "CARTA", quantity: 6, wantUnit: 9000, wantSubtotal: 54000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size, _ := cfg.SizeByName(tc.size)
			got, err := engine.PriceCustomization(cfg, CustomizationPriceInput{
				SizeName: tc.size,
				WidthCM:  size.WidthCM,
				HeightCM: size.HeightCM,
				Quantity: tc.quantity,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.PricePerUnit != tc.wantUnit {
				t.Fatalf("price per unit = %d, want %d", got.PricePerUnit, tc.wantUnit)
			}
			if got.Subtotal != tc.wantSubtotal {
				t.Fatalf("subtotal = %d, want %d", got.Subtotal, tc.wantSubtotal)
			}
			if got.MetersNeeded != 0 {
				t.Fatalf("meters needed = %v, want 0 for fixed pricing", got.MetersNeeded)
			}
			wantLabel := "FIJO (" + tc.size + ")"
			if got.TierLabel != wantLabel {
				t.Fatalf("tier label = %q, want %q", got.TierLabel, wantLabel)
			}
		})
	}
}

func TestPriceCustomizationVolumeTiers(t *testing.T) {
	engine := NewPricingEngine()
	cfg := dtfTestConfig()

	cases := []struct {
		name         string
		size         string
		quantity     int
		wantMeters   float64
		wantSubtotal int64
		wantUnit     int64
		wantLabel    string
	}{
		{
			name:         "carta hundred units lands in first tier",
			size:         "CARTA",
			quantity:     100,
			wantMeters:   4.25,
			wantSubtotal: 85000,
			wantUnit:     850,
			wantLabel:    "0-25m (20k/m²)",
		},
		{
			name:         "tabloide four hundred units lands in middle tier",
			size:         "TABLOIDE",
			quantity:     400,
			wantMeters:   32.48,
			wantSubtotal: 584640,
			wantUnit:     1462,
			wantLabel:    "25-120m (18k/m²)",
		},
		{
			name:         "tabloide fifteen hundred units lands in open tier",
			size:         "TABLOIDE",
			quantity:     1500,
			wantMeters:   121.8,
			wantSubtotal: 2070600,
			wantUnit:     1380,
			wantLabel:    "120m+ (17k/m²)",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size, _ := cfg.SizeByName(tc.size)
			got, err := engine.PriceCustomization(cfg, CustomizationPriceInput{
				SizeName: tc.size,
				WidthCM:  size.WidthCM,
				HeightCM: size.HeightCM,
				Quantity: tc.quantity,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.MetersNeeded != tc.wantMeters {
				t.Fatalf("meters needed = %v, want %v", got.MetersNeeded, tc.wantMeters)
			}
			if got.Subtotal != tc.wantSubtotal {
				t.Fatalf("subtotal = %d, want %d", got.Subtotal, tc.wantSubtotal)
			}
			if got.PricePerUnit != tc.wantUnit {
				t.Fatalf("price per unit = %d, want %d", got.PricePerUnit, tc.wantUnit)
			}
			if got.TierLabel != tc.wantLabel {
				t.Fatalf("tier label = %q, want %q", got.TierLabel, tc.wantLabel)
			}
		})
	}
}

func TestPriceCustomizationFallsBackWhenNoTierMatches(t *testing.T) {
	engine := NewPricingEngine()
	cfg := dtfTestConfig()
	cfg.VolumeTiers = nil

	got, err := engine.PriceCustomization(cfg, CustomizationPriceInput{
		SizeName: "CARTA",
		WidthCM:  22,
		HeightCM: 29,
		Quantity: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TierLabel != "0-25m (20,000/m²)" {
		t.Fatalf("tier label = %q, want fallback label", got.TierLabel)
	}
	if got.Subtotal != 85000 {
		t.Fatalf("subtotal = %d, want 85000", got.Subtotal)
	}
}

func TestPriceCustomizationUnknownSize(t *testing.T) {
	engine := NewPricingEngine()

	_, err := engine.PriceCustomization(dtfTestConfig(), CustomizationPriceInput{
		SizeName: "GIGANTE",
		Quantity: 10,
	})
	if !errors.Is(err, ErrPrintSizeUnknown) {
		t.Fatalf("expected ErrPrintSizeUnknown, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "GIGANTE") {
		t.Fatalf("error should name the missing size, got %v", err)
	}
}

func TestPriceCustomizationRejectsInvalidInput(t *testing.T) {
	engine := NewPricingEngine()

	if _, err := engine.PriceCustomization(dtfTestConfig(), CustomizationPriceInput{SizeName: "CARTA", Quantity: -1}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput for negative quantity, got %v", err)
	}
	if _, err := engine.PriceCustomization(dtfTestConfig(), CustomizationPriceInput{SizeName: "  ", Quantity: 5}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput for blank size, got %v", err)
	}
}

func TestPriceCustomizationZeroQuantityIsDegenerate(t *testing.T) {
	engine := NewPricingEngine()

	got, err := engine.PriceCustomization(dtfTestConfig(), CustomizationPriceInput{SizeName: "CARTA", Quantity: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	switch {
	case got.Subtotal != 0:
		t.Fatalf("subtotal = %d, want 0", got.Subtotal)
	case got.PricePerUnit != 9000:
		t.Fatalf("price per unit = %d, want fixed carta price", got.PricePerUnit)
	case got.TierLabel != "FIJO (CARTA)":
		t.Fatalf("tier label = %q, want fixed label", got.TierLabel)
	case got.MetersNeeded != 0:
		t.Fatalf("meters needed = %v, want 0", got.MetersNeeded)
	}
}

func TestFormatPriceGroupsThousands(t *testing.T) {
	engine := NewPricingEngine()

	got := engine.FormatPrice(1000)
	if !strings.Contains(got, "1.000") {
		t.Fatalf("FormatPrice(1000) = %q, want dot-grouped thousands", got)
	}

	got = engine.FormatPrice(2070600)
	if !strings.Contains(got, "2.070.600") {
		t.Fatalf("FormatPrice(2070600) = %q, want dot-grouped thousands", got)
	}
}
