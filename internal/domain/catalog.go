package domain

import (
	"time"
)

// ProductCategory enumerates the garment families offered in the catalog.
type ProductCategory string

const (
	// CategoryTShirt is the plain t-shirt family.
	CategoryTShirt ProductCategory = "tshirt"
	// CategoryHoodie is the hooded sweatshirt family.
	CategoryHoodie ProductCategory = "hoodie"
	// CategoryTank is the tank-top family.
	CategoryTank ProductCategory = "tank"
	// CategorySweatshirt is the crewneck sweatshirt family.
	CategorySweatshirt ProductCategory = "sweatshirt"
	// CategoryPolo is the polo shirt family.
	CategoryPolo ProductCategory = "polo"
)

// ProductFit enumerates the cut variants a garment ships in.
type ProductFit string

const (
	// FitOversize is the loose streetwear cut.
	FitOversize ProductFit = "oversize"
	// FitRegular is the standard cut.
	FitRegular ProductFit = "regular"
	// FitSlim is the fitted cut.
	FitSlim ProductFit = "slim"
)

// SizeChartRow holds the measured dimensions, in centimetres, for one
// garment size.
type SizeChartRow struct {
	Size   string
	Chest  float64
	Length float64
	Sleeve float64
}

// Product is a catalog garment. Prices are Colombian pesos, whole units.
type Product struct {
	ID                 string
	Name               string
	Reference          string
	Color              string
	Category           ProductCategory
	Fit                ProductFit
	Material           string
	WeightGSM          int
	Images             []string
	BasePrice          int64
	Available          bool
	MaxDiscountPercent float64
	SizeChart          []SizeChartRow
	Features           []string
	Description        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PrintTechnique enumerates the supported garment printing techniques.
type PrintTechnique string

const (
	// TechniqueDTF is direct-to-film transfer printing.
	TechniqueDTF PrintTechnique = "DTF"
	// TechniqueDTG is direct-to-garment printing.
	TechniqueDTG PrintTechnique = "DTG"
)

// PrintSize is a named print dimension with its fixed small-run price.
type PrintSize struct {
	Name     string
	WidthCM  float64
	HeightCM float64
	Price    int64
}

// VolumeTier prices printed fabric by the square metre once an order is
// large enough to leave fixed pricing. An open-ended tier has a nil
// MaxMeters.
type VolumeTier struct {
	MinMeters  float64
	MaxMeters  *float64
	PricePerM2 int64
}

// PrintLocation describes a placement area on the garment and its maximum
// printable dimensions.
type PrintLocation struct {
	ID          string
	Name        string
	MaxWidthCM  float64
	MaxHeightCM float64
	Description string
}

// PersonalizationConfig is the pricing configuration for one technique.
// Stored one document per technique, keyed by the technique name.
type PersonalizationConfig struct {
	Technique             PrintTechnique
	Sizes                 []PrintSize
	MaxUnitsForFixedPrice int
	VolumeTiers           []VolumeTier
	Locations             []PrintLocation
	UpdatedAt             time.Time
}

// SizeByName returns the print size with the given name, if configured.
func (c PersonalizationConfig) SizeByName(name string) (PrintSize, bool) {
	for _, s := range c.Sizes {
		if s.Name == name {
			return s, true
		}
	}
	return PrintSize{}, false
}

// LocationByID returns the print location with the given identifier.
func (c PersonalizationConfig) LocationByID(id string) (PrintLocation, bool) {
	for _, l := range c.Locations {
		if l.ID == id {
			return l, true
		}
	}
	return PrintLocation{}, false
}
