package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/printy-garments/api/internal/repositories"
)

var (
	// ErrDraftInvalidInput signals the caller provided invalid draft data.
	ErrDraftInvalidInput = errors.New("quote draft: invalid input")
	// ErrDraftProductUnavailable indicates the requested product cannot be quoted.
	ErrDraftProductUnavailable = errors.New("quote draft: product unavailable")
	// ErrDraftLocationUnknown indicates the print location is not configured.
	ErrDraftLocationUnknown = errors.New("quote draft: print location not configured")
	// ErrDraftPrintTooLarge indicates the print size exceeds the location's printable area.
	ErrDraftPrintTooLarge = errors.New("quote draft: print exceeds location bounds")
)

// QuoteDraftServiceDeps bundles collaborators required to construct the draft service.
type QuoteDraftServiceDeps struct {
	Drafts   repositories.QuoteDraftRepository
	Products repositories.ProductRepository
	Configs  repositories.PersonalizationConfigRepository
	Pricing  PricingEngine
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type quoteDraftService struct {
	drafts   repositories.QuoteDraftRepository
	products repositories.ProductRepository
	configs  repositories.PersonalizationConfigRepository
	pricing  PricingEngine
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewQuoteDraftService wires dependencies into a concrete QuoteDraftService implementation.
func NewQuoteDraftService(deps QuoteDraftServiceDeps) (QuoteDraftService, error) {
	if deps.Drafts == nil {
		return nil, errors.New("quote draft service: draft repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("quote draft service: product repository is required")
	}
	if deps.Configs == nil {
		return nil, errors.New("quote draft service: personalization config repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("quote draft service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &quoteDraftService{
		drafts:   deps.Drafts,
		products: deps.Products,
		configs:  deps.Configs,
		pricing:  deps.Pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetDraft returns the client's working draft. A client without a stored
// draft gets an empty one.
func (s *quoteDraftService) GetDraft(ctx context.Context, clientID string) (QuoteDraft, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return QuoteDraft{}, fmt.Errorf("%w: client id is required", ErrDraftInvalidInput)
	}
	draft, err := s.drafts.Get(ctx, clientID)
	if err != nil {
		if isNotFound(err) {
			return QuoteDraft{ClientID: clientID}, nil
		}
		return QuoteDraft{}, err
	}
	return draft, nil
}

func (s *quoteDraftService) AddItem(ctx context.Context, cmd AddDraftItemCommand) (QuoteDraft, error) {
	clientID := strings.TrimSpace(cmd.ClientID)
	if clientID == "" {
		return QuoteDraft{}, fmt.Errorf("%w: client id is required", ErrDraftInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return QuoteDraft{}, fmt.Errorf("%w: product id is required", ErrDraftInvalidInput)
	}
	breakdown, err := normaliseSizeBreakdown(cmd.SizeBreakdown)
	if err != nil {
		return QuoteDraft{}, err
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return QuoteDraft{}, fmt.Errorf("%w: product %s", ErrDraftProductUnavailable, productID)
		}
		return QuoteDraft{}, err
	}
	if !product.Available {
		return QuoteDraft{}, fmt.Errorf("%w: product %s", ErrDraftProductUnavailable, productID)
	}

	draft, err := s.GetDraft(ctx, clientID)
	if err != nil {
		return QuoteDraft{}, err
	}

	draft.Items = append(draft.Items, QuoteDraftItem{
		ProductID:     product.ID,
		ProductName:   product.Name,
		ProductColor:  product.Color,
		BasePrice:     product.BasePrice,
		SizeBreakdown: breakdown,
	})

	return s.repriceAndSave(ctx, draft)
}

func (s *quoteDraftService) RemoveItem(ctx context.Context, cmd RemoveDraftItemCommand) (QuoteDraft, error) {
	draft, err := s.loadDraftForMutation(ctx, cmd.ClientID)
	if err != nil {
		return QuoteDraft{}, err
	}
	if cmd.ItemIndex < 0 || cmd.ItemIndex >= len(draft.Items) {
		return QuoteDraft{}, fmt.Errorf("%w: item index %d out of range", ErrDraftInvalidInput, cmd.ItemIndex)
	}
	draft.Items = append(draft.Items[:cmd.ItemIndex], draft.Items[cmd.ItemIndex+1:]...)
	return s.repriceAndSave(ctx, draft)
}

func (s *quoteDraftService) UpdateSizeBreakdown(ctx context.Context, cmd UpdateSizeBreakdownCommand) (QuoteDraft, error) {
	breakdown, err := normaliseSizeBreakdown(cmd.SizeBreakdown)
	if err != nil {
		return QuoteDraft{}, err
	}
	draft, err := s.loadDraftForMutation(ctx, cmd.ClientID)
	if err != nil {
		return QuoteDraft{}, err
	}
	if cmd.ItemIndex < 0 || cmd.ItemIndex >= len(draft.Items) {
		return QuoteDraft{}, fmt.Errorf("%w: item index %d out of range", ErrDraftInvalidInput, cmd.ItemIndex)
	}
	draft.Items[cmd.ItemIndex].SizeBreakdown = breakdown
	return s.repriceAndSave(ctx, draft)
}

func (s *quoteDraftService) AddCustomization(ctx context.Context, cmd AddCustomizationCommand) (QuoteDraft, error) {
	draft, err := s.loadDraftForMutation(ctx, cmd.ClientID)
	if err != nil {
		return QuoteDraft{}, err
	}
	if cmd.ItemIndex < 0 || cmd.ItemIndex >= len(draft.Items) {
		return QuoteDraft{}, fmt.Errorf("%w: item index %d out of range", ErrDraftInvalidInput, cmd.ItemIndex)
	}
	sizeName := strings.TrimSpace(cmd.SizeName)
	if sizeName == "" {
		return QuoteDraft{}, fmt.Errorf("%w: print size name is required", ErrDraftInvalidInput)
	}

	cfg, err := s.configs.Get(ctx, cmd.Technique)
	if err != nil {
		if isNotFound(err) {
			return QuoteDraft{}, fmt.Errorf("%w: technique %s not configured", ErrDraftInvalidInput, cmd.Technique)
		}
		return QuoteDraft{}, err
	}

	location, ok := cfg.LocationByID(strings.TrimSpace(cmd.LocationID))
	if !ok {
		return QuoteDraft{}, fmt.Errorf("%w: %s", ErrDraftLocationUnknown, cmd.LocationID)
	}
	size, ok := cfg.SizeByName(sizeName)
	if !ok {
		return QuoteDraft{}, fmt.Errorf("%w: %s", ErrPrintSizeUnknown, sizeName)
	}
	if size.WidthCM > location.MaxWidthCM || size.HeightCM > location.MaxHeightCM {
		return QuoteDraft{}, fmt.Errorf("%w: %s does not fit %s", ErrDraftPrintTooLarge, size.Name, location.Name)
	}

	item := &draft.Items[cmd.ItemIndex]
	item.Customizations = append(item.Customizations, QuotationCustomization{
		Technique:         cfg.Technique,
		LocationID:        location.ID,
		LocationName:      location.Name,
		SizeName:          size.Name,
		WidthCM:           size.WidthCM,
		HeightCM:          size.HeightCM,
		DesignURL:         strings.TrimSpace(cmd.DesignURL),
		DesignDescription: strings.TrimSpace(cmd.DesignDescription),
	})

	return s.repriceAndSave(ctx, draft)
}

func (s *quoteDraftService) RemoveCustomization(ctx context.Context, cmd RemoveCustomizationCommand) (QuoteDraft, error) {
	draft, err := s.loadDraftForMutation(ctx, cmd.ClientID)
	if err != nil {
		return QuoteDraft{}, err
	}
	if cmd.ItemIndex < 0 || cmd.ItemIndex >= len(draft.Items) {
		return QuoteDraft{}, fmt.Errorf("%w: item index %d out of range", ErrDraftInvalidInput, cmd.ItemIndex)
	}
	item := &draft.Items[cmd.ItemIndex]
	if cmd.CustomizationIndex < 0 || cmd.CustomizationIndex >= len(item.Customizations) {
		return QuoteDraft{}, fmt.Errorf("%w: customization index %d out of range", ErrDraftInvalidInput, cmd.CustomizationIndex)
	}
	item.Customizations = append(item.Customizations[:cmd.CustomizationIndex], item.Customizations[cmd.CustomizationIndex+1:]...)
	return s.repriceAndSave(ctx, draft)
}

// ClearDraft removes the client's working draft. Clearing an absent draft
// is a no-op.
func (s *quoteDraftService) ClearDraft(ctx context.Context, clientID string) error {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return fmt.Errorf("%w: client id is required", ErrDraftInvalidInput)
	}
	if err := s.drafts.Delete(ctx, clientID); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *quoteDraftService) loadDraftForMutation(ctx context.Context, clientID string) (QuoteDraft, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return QuoteDraft{}, fmt.Errorf("%w: client id is required", ErrDraftInvalidInput)
	}
	return s.GetDraft(ctx, clientID)
}

// repriceAndSave recomputes every customization price from the current
// whole-draft unit count, then persists the draft. Volume tiers are
// quote-wide, so a quantity change on one item can change the tier every
// print is billed at.
func (s *quoteDraftService) repriceAndSave(ctx context.Context, draft QuoteDraft) (QuoteDraft, error) {
	if err := s.repriceCustomizations(ctx, &draft); err != nil {
		return QuoteDraft{}, err
	}
	draft.UpdatedAt = s.clock()
	if err := s.drafts.Save(ctx, draft); err != nil {
		return QuoteDraft{}, err
	}
	return draft, nil
}

func (s *quoteDraftService) repriceCustomizations(ctx context.Context, draft *QuoteDraft) error {
	totalUnits := draft.TotalUnits()
	configs := make(map[PrintTechnique]PersonalizationConfig)

	for i := range draft.Items {
		for j := range draft.Items[i].Customizations {
			c := &draft.Items[i].Customizations[j]

			if totalUnits <= 0 {
				c.Quantity = 0
				c.PricePerUnit = 0
				c.Subtotal = 0
				c.TierLabel = ""
				c.MetersNeeded = 0
				continue
			}

			cfg, ok := configs[c.Technique]
			if !ok {
				loaded, err := s.configs.Get(ctx, c.Technique)
				if err != nil {
					return err
				}
				cfg = loaded
				configs[c.Technique] = cfg
			}

			price, err := s.pricing.PriceCustomization(cfg, CustomizationPriceInput{
				SizeName: c.SizeName,
				WidthCM:  c.WidthCM,
				HeightCM: c.HeightCM,
				Quantity: totalUnits,
			})
			if err != nil {
				return err
			}

			c.Quantity = totalUnits
			c.PricePerUnit = price.PricePerUnit
			c.Subtotal = price.Subtotal
			c.TierLabel = price.TierLabel
			c.MetersNeeded = price.MetersNeeded
		}
	}
	return nil
}

func normaliseSizeBreakdown(breakdown map[string]int) (map[string]int, error) {
	normalised := make(map[string]int, len(breakdown))
	for size, qty := range breakdown {
		name := strings.TrimSpace(size)
		if name == "" {
			return nil, fmt.Errorf("%w: size name is required", ErrDraftInvalidInput)
		}
		if qty < 0 {
			return nil, fmt.Errorf("%w: quantity for size %s must not be negative", ErrDraftInvalidInput, name)
		}
		if qty == 0 {
			continue
		}
		normalised[name] = qty
	}
	return normalised, nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
