package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/printy-garments/api/internal/domain"
	pfirestore "github.com/printy-garments/api/internal/platform/firestore"
)

const personalizationConfigsCollection = "personalization_configs"

// PersonalizationConfigRepository stores one pricing configuration document
// per technique, keyed by the technique name.
type PersonalizationConfigRepository struct {
	base *pfirestore.BaseRepository[personalizationConfigDocument]
}

// NewPersonalizationConfigRepository constructs a Firestore-backed config repository.
func NewPersonalizationConfigRepository(provider *pfirestore.Provider) (*PersonalizationConfigRepository, error) {
	if provider == nil {
		return nil, errors.New("personalization config repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[personalizationConfigDocument](provider, personalizationConfigsCollection, nil, nil)
	return &PersonalizationConfigRepository{base: base}, nil
}

// Get fetches the configuration for a technique.
func (r *PersonalizationConfigRepository) Get(ctx context.Context, technique domain.PrintTechnique) (domain.PersonalizationConfig, error) {
	if r == nil || r.base == nil {
		return domain.PersonalizationConfig{}, errors.New("personalization config repository not initialised")
	}
	name := strings.TrimSpace(string(technique))
	if name == "" {
		return domain.PersonalizationConfig{}, errors.New("personalization config repository: technique is required")
	}
	doc, err := r.base.Get(ctx, name)
	if err != nil {
		return domain.PersonalizationConfig{}, err
	}
	return decodeConfigDocument(doc.ID, doc.Data, doc.UpdateTime), nil
}

// Upsert replaces the configuration for the technique named in cfg.
func (r *PersonalizationConfigRepository) Upsert(ctx context.Context, cfg domain.PersonalizationConfig) error {
	if r == nil || r.base == nil {
		return errors.New("personalization config repository not initialised")
	}
	name := strings.TrimSpace(string(cfg.Technique))
	if name == "" {
		return errors.New("personalization config repository: technique is required")
	}
	if _, err := r.base.Set(ctx, name, encodeConfigDocument(cfg)); err != nil {
		return err
	}
	return nil
}

type personalizationConfigDocument struct {
	Technique             string                  `firestore:"technique"`
	Sizes                 []printSizeDocument     `firestore:"sizes"`
	MaxUnitsForFixedPrice int                     `firestore:"maxUnitsForFixedPrice"`
	VolumeTiers           []volumeTierDocument    `firestore:"volumeTiers"`
	Locations             []printLocationDocument `firestore:"locations"`
	UpdatedAt             time.Time               `firestore:"updatedAt"`
}

type printSizeDocument struct {
	Name     string  `firestore:"name"`
	WidthCM  float64 `firestore:"width"`
	HeightCM float64 `firestore:"height"`
	Price    int64   `firestore:"price"`
}

type volumeTierDocument struct {
	MinMeters  float64  `firestore:"minMeters"`
	MaxMeters  *float64 `firestore:"maxMeters"`
	PricePerM2 int64    `firestore:"pricePerM2"`
}

type printLocationDocument struct {
	ID          string  `firestore:"id"`
	Name        string  `firestore:"name"`
	MaxWidthCM  float64 `firestore:"maxWidth"`
	MaxHeightCM float64 `firestore:"maxHeight"`
	Description string  `firestore:"description,omitempty"`
}

func encodeConfigDocument(cfg domain.PersonalizationConfig) personalizationConfigDocument {
	doc := personalizationConfigDocument{
		Technique:             string(cfg.Technique),
		MaxUnitsForFixedPrice: cfg.MaxUnitsForFixedPrice,
		UpdatedAt:             cfg.UpdatedAt.UTC(),
	}
	for _, s := range cfg.Sizes {
		doc.Sizes = append(doc.Sizes, printSizeDocument(s))
	}
	for _, t := range cfg.VolumeTiers {
		tier := volumeTierDocument{MinMeters: t.MinMeters, PricePerM2: t.PricePerM2}
		if t.MaxMeters != nil {
			value := *t.MaxMeters
			tier.MaxMeters = &value
		}
		doc.VolumeTiers = append(doc.VolumeTiers, tier)
	}
	for _, l := range cfg.Locations {
		doc.Locations = append(doc.Locations, printLocationDocument(l))
	}
	return doc
}

func decodeConfigDocument(id string, doc personalizationConfigDocument, updateTime time.Time) domain.PersonalizationConfig {
	cfg := domain.PersonalizationConfig{
		Technique:             domain.PrintTechnique(doc.Technique),
		MaxUnitsForFixedPrice: doc.MaxUnitsForFixedPrice,
		UpdatedAt:             doc.UpdatedAt,
	}
	if cfg.Technique == "" {
		cfg.Technique = domain.PrintTechnique(id)
	}
	for _, s := range doc.Sizes {
		cfg.Sizes = append(cfg.Sizes, domain.PrintSize(s))
	}
	for _, t := range doc.VolumeTiers {
		tier := domain.VolumeTier{MinMeters: t.MinMeters, PricePerM2: t.PricePerM2}
		if t.MaxMeters != nil {
			value := *t.MaxMeters
			tier.MaxMeters = &value
		}
		cfg.VolumeTiers = append(cfg.VolumeTiers, tier)
	}
	for _, l := range doc.Locations {
		cfg.Locations = append(cfg.Locations, domain.PrintLocation(l))
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = updateTime
	}
	return cfg
}
