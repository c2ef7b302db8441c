package domain

import (
	"time"
)

// QuotationStatus enumerates the quotation lifecycle states.
type QuotationStatus string

const (
	// QuotationStatusDraft marks a quotation still being assembled.
	QuotationStatusDraft QuotationStatus = "draft"
	// QuotationStatusPendingApproval marks a submitted quotation awaiting review.
	QuotationStatusPendingApproval QuotationStatus = "pending_approval"
	// QuotationStatusApproved marks a quotation converted into an order.
	QuotationStatusApproved QuotationStatus = "approved"
	// QuotationStatusRejected marks a quotation declined by staff.
	QuotationStatusRejected QuotationStatus = "rejected"
	// QuotationStatusExpired marks a quotation that aged out unreviewed.
	QuotationStatusExpired QuotationStatus = "expired"
)

// DeliveryPreference captures how a large-volume client wants their units
// delivered.
type DeliveryPreference string

const (
	// DeliveryPartial requests staggered partial deliveries.
	DeliveryPartial DeliveryPreference = "partial"
	// DeliveryComplete requests a single complete delivery.
	DeliveryComplete DeliveryPreference = "complete"
)

// QuotationCustomization is one priced print applied to a quotation item.
// Quantity is the whole-quotation unit count because volume tiers apply
// across the entire quote, not per item.
type QuotationCustomization struct {
	Technique         PrintTechnique
	LocationID        string
	LocationName      string
	SizeName          string
	WidthCM           float64
	HeightCM          float64
	DesignURL         string
	DesignDescription string
	PricePerUnit      int64
	Quantity          int
	Subtotal          int64
	TierLabel         string
	MetersNeeded      float64
}

// QuotationItem is a garment line with its per-size quantity breakdown and
// the prints applied to it. Product fields are snapshots taken at pricing
// time.
type QuotationItem struct {
	ProductID       string
	ProductName     string
	ProductColor    string
	BasePrice       int64
	SizeBreakdown   map[string]int
	Customizations  []QuotationCustomization
	Subtotal        int64
	DiscountPercent float64
	DiscountAmount  int64
	ItemTotal       int64
}

// Units returns the total garment count across the size breakdown.
func (i QuotationItem) Units() int {
	total := 0
	for _, qty := range i.SizeBreakdown {
		total += qty
	}
	return total
}

// Quotation is a submitted multi-item quote with computed totals.
type Quotation struct {
	ID              string
	QuotationNumber string
	ClientID        string
	CommercialID    string
	Status          QuotationStatus
	Items           []QuotationItem
	Subtotal        int64
	IVAPercent      float64
	IVAAmount       int64
	Total           int64
	TotalUnits      int
	// EstimatedDays is nil for large-volume quotations where the production
	// window is agreed with the commercial.
	EstimatedDays               *int
	EstimatedDaysNote           string
	RequiresCommercialApproval  bool
	ClientDeliveryPreference    DeliveryPreference
	DeliveryPreferenceConfirmed bool
	RejectionReason             string
	ExpiresAt                   time.Time
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// QuoteDraftItem is an in-progress garment line inside a client's draft.
type QuoteDraftItem struct {
	ProductID      string
	ProductName    string
	ProductColor   string
	BasePrice      int64
	SizeBreakdown  map[string]int
	Customizations []QuotationCustomization
}

// Units returns the total garment count across the draft item's sizes.
func (i QuoteDraftItem) Units() int {
	total := 0
	for _, qty := range i.SizeBreakdown {
		total += qty
	}
	return total
}

// QuoteDraft is the single working quote each client assembles before
// submission. Keyed by the client UID.
type QuoteDraft struct {
	ClientID  string
	Items     []QuoteDraftItem
	UpdatedAt time.Time
}

// TotalUnits returns the garment count across every draft item.
func (d QuoteDraft) TotalUnits() int {
	total := 0
	for _, item := range d.Items {
		total += item.Units()
	}
	return total
}

// TotalPrice returns the draft running total: garment cost plus every
// customization subtotal.
func (d QuoteDraft) TotalPrice() int64 {
	var total int64
	for _, item := range d.Items {
		total += item.BasePrice * int64(item.Units())
		for _, c := range item.Customizations {
			total += c.Subtotal
		}
	}
	return total
}
