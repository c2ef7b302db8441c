package services

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var (
	// ErrPricingInvalidInput indicates the caller supplied an unusable pricing request.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPrintSizeUnknown indicates the requested print size is not configured for the technique.
	ErrPrintSizeUnknown = errors.New("pricing: print size not configured")
)

const (
	// fabricRollWidthM is the usable print width of the film roll. Meter
	// consumption is derived from design area divided by this width.
	fabricRollWidthM = 1.5

	// Fallback rate applied when no volume tier matches.
	fallbackPricePerM2 int64 = 20000
	fallbackTierLabel        = "0-25m (20,000/m²)"
)

type pricingEngine struct {
	printer *message.Printer
}

// NewPricingEngine constructs the COP pricing engine.
func NewPricingEngine() PricingEngine {
	return &pricingEngine{
		printer: message.NewPrinter(language.MustParse("es-CO")),
	}
}

// PriceCustomization prices one print. Small runs (at or below the
// configured fixed-price ceiling) pay the per-size fixed price; larger runs
// pay by the square metre at the volume tier matching the total meters the
// run consumes.
func (e *pricingEngine) PriceCustomization(cfg PersonalizationConfig, input CustomizationPriceInput) (CustomizationPrice, error) {
	sizeName := strings.TrimSpace(input.SizeName)
	if sizeName == "" {
		return CustomizationPrice{}, fmt.Errorf("%w: size name is required", ErrPricingInvalidInput)
	}
	// Quantity zero is a degenerate but valid request: the fixed-price
	// branch yields a zero subtotal at the size's unit price.
	if input.Quantity < 0 {
		return CustomizationPrice{}, fmt.Errorf("%w: quantity must not be negative, got %d", ErrPricingInvalidInput, input.Quantity)
	}

	size, ok := cfg.SizeByName(sizeName)
	if !ok {
		return CustomizationPrice{}, fmt.Errorf("%w: %s", ErrPrintSizeUnknown, sizeName)
	}

	if input.Quantity <= cfg.MaxUnitsForFixedPrice {
		return CustomizationPrice{
			PricePerUnit: size.Price,
			Subtotal:     size.Price * int64(input.Quantity),
			TierLabel:    fmt.Sprintf("FIJO (%s)", size.Name),
			MetersNeeded: 0,
		}, nil
	}

	width := input.WidthCM
	height := input.HeightCM
	if width <= 0 {
		width = size.WidthCM
	}
	if height <= 0 {
		height = size.HeightCM
	}

	designAreaM2 := (width * height) / 10000
	metersNeeded := math.Round(designAreaM2*float64(input.Quantity)/fabricRollWidthM*100) / 100

	pricePerM2 := fallbackPricePerM2
	tierLabel := fallbackTierLabel
	for _, tier := range cfg.VolumeTiers {
		if metersNeeded < tier.MinMeters {
			continue
		}
		if tier.MaxMeters != nil && metersNeeded > *tier.MaxMeters {
			continue
		}
		pricePerM2 = tier.PricePerM2
		tierLabel = volumeTierLabel(tier)
		break
	}

	subtotal := int64(math.Round(metersNeeded * float64(pricePerM2)))
	pricePerUnit := int64(math.Round(float64(subtotal) / float64(input.Quantity)))

	return CustomizationPrice{
		PricePerUnit: pricePerUnit,
		Subtotal:     subtotal,
		TierLabel:    tierLabel,
		MetersNeeded: metersNeeded,
	}, nil
}

// FormatPrice renders a COP amount for the Colombian locale, grouping
// thousands with dots and omitting decimals.
func (e *pricingEngine) FormatPrice(amount int64) string {
	return e.printer.Sprintf("$ %v", number.Decimal(amount))
}

func volumeTierLabel(tier VolumeTier) string {
	rate := float64(tier.PricePerM2) / 1000
	if tier.MaxMeters == nil {
		return fmt.Sprintf("%sm+ (%sk/m²)", trimFloat(tier.MinMeters), trimFloat(rate))
	}
	return fmt.Sprintf("%s-%sm (%sk/m²)", trimFloat(tier.MinMeters), trimFloat(*tier.MaxMeters), trimFloat(rate))
}

func trimFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
