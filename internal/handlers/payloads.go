package handlers

import (
	"github.com/printy-garments/api/internal/domain"
)

// listPayload is the shared envelope for cursor-paginated collections.
type listPayload[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func buildListPayload[D, T any](page domain.CursorPage[D], build func(D) T) listPayload[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, build(item))
	}
	return listPayload[T]{Items: items, NextPageToken: page.NextPageToken}
}

// Catalog ---------------------------------------------------------------------

type sizeChartRowPayload struct {
	Size   string  `json:"size"`
	Chest  float64 `json:"chest_cm"`
	Length float64 `json:"length_cm"`
	Sleeve float64 `json:"sleeve_cm"`
}

type productPayload struct {
	ID                 string                `json:"id"`
	Name               string                `json:"name"`
	Reference          string                `json:"reference,omitempty"`
	Color              string                `json:"color"`
	Category           string                `json:"category"`
	Fit                string                `json:"fit,omitempty"`
	Material           string                `json:"material,omitempty"`
	WeightGSM          int                   `json:"weight_gsm,omitempty"`
	Images             []string              `json:"images"`
	BasePrice          int64                 `json:"base_price"`
	Available          bool                  `json:"available"`
	MaxDiscountPercent float64               `json:"max_discount_percent,omitempty"`
	SizeChart          []sizeChartRowPayload `json:"size_chart,omitempty"`
	Features           []string              `json:"features,omitempty"`
	Description        string                `json:"description,omitempty"`
	CreatedAt          string                `json:"created_at,omitempty"`
	UpdatedAt          string                `json:"updated_at,omitempty"`
}

func buildProductPayload(p domain.Product) productPayload {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	chart := make([]sizeChartRowPayload, 0, len(p.SizeChart))
	for _, row := range p.SizeChart {
		chart = append(chart, sizeChartRowPayload{
			Size:   row.Size,
			Chest:  row.Chest,
			Length: row.Length,
			Sleeve: row.Sleeve,
		})
	}
	return productPayload{
		ID:                 p.ID,
		Name:               p.Name,
		Reference:          p.Reference,
		Color:              p.Color,
		Category:           string(p.Category),
		Fit:                string(p.Fit),
		Material:           p.Material,
		WeightGSM:          p.WeightGSM,
		Images:             images,
		BasePrice:          p.BasePrice,
		Available:          p.Available,
		MaxDiscountPercent: p.MaxDiscountPercent,
		SizeChart:          chart,
		Features:           p.Features,
		Description:        p.Description,
		CreatedAt:          formatTime(p.CreatedAt),
		UpdatedAt:          formatTime(p.UpdatedAt),
	}
}

type printSizePayload struct {
	Name     string  `json:"name"`
	WidthCM  float64 `json:"width_cm"`
	HeightCM float64 `json:"height_cm"`
	Price    int64   `json:"price"`
}

type volumeTierPayload struct {
	MinMeters  float64  `json:"min_meters"`
	MaxMeters  *float64 `json:"max_meters,omitempty"`
	PricePerM2 int64    `json:"price_per_m2"`
}

type printLocationPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	MaxWidthCM  float64 `json:"max_width_cm"`
	MaxHeightCM float64 `json:"max_height_cm"`
	Description string  `json:"description,omitempty"`
}

type personalizationConfigPayload struct {
	Technique             string                 `json:"technique"`
	Sizes                 []printSizePayload     `json:"sizes"`
	MaxUnitsForFixedPrice int                    `json:"max_units_for_fixed_price"`
	VolumeTiers           []volumeTierPayload    `json:"volume_tiers"`
	Locations             []printLocationPayload `json:"locations"`
	UpdatedAt             string                 `json:"updated_at,omitempty"`
}

func buildConfigPayload(cfg domain.PersonalizationConfig) personalizationConfigPayload {
	sizes := make([]printSizePayload, 0, len(cfg.Sizes))
	for _, s := range cfg.Sizes {
		sizes = append(sizes, printSizePayload{Name: s.Name, WidthCM: s.WidthCM, HeightCM: s.HeightCM, Price: s.Price})
	}
	tiers := make([]volumeTierPayload, 0, len(cfg.VolumeTiers))
	for _, t := range cfg.VolumeTiers {
		tiers = append(tiers, volumeTierPayload{MinMeters: t.MinMeters, MaxMeters: t.MaxMeters, PricePerM2: t.PricePerM2})
	}
	return personalizationConfigPayload{
		Technique:             string(cfg.Technique),
		Sizes:                 sizes,
		MaxUnitsForFixedPrice: cfg.MaxUnitsForFixedPrice,
		VolumeTiers:           tiers,
		Locations:             buildLocationPayloads(cfg.Locations),
		UpdatedAt:             formatTime(cfg.UpdatedAt),
	}
}

func buildLocationPayloads(locations []domain.PrintLocation) []printLocationPayload {
	out := make([]printLocationPayload, 0, len(locations))
	for _, l := range locations {
		out = append(out, printLocationPayload{
			ID:          l.ID,
			Name:        l.Name,
			MaxWidthCM:  l.MaxWidthCM,
			MaxHeightCM: l.MaxHeightCM,
			Description: l.Description,
		})
	}
	return out
}

// Quotes and orders -----------------------------------------------------------

type customizationPayload struct {
	Technique         string  `json:"technique"`
	LocationID        string  `json:"location_id"`
	LocationName      string  `json:"location_name,omitempty"`
	SizeName          string  `json:"size_name"`
	WidthCM           float64 `json:"width_cm"`
	HeightCM          float64 `json:"height_cm"`
	DesignURL         string  `json:"design_url,omitempty"`
	DesignDescription string  `json:"design_description,omitempty"`
	PricePerUnit      int64   `json:"price_per_unit"`
	Quantity          int     `json:"quantity"`
	Subtotal          int64   `json:"subtotal"`
	TierLabel         string  `json:"tier_label,omitempty"`
	MetersNeeded      float64 `json:"meters_needed,omitempty"`
}

func buildCustomizationPayloads(customizations []domain.QuotationCustomization) []customizationPayload {
	out := make([]customizationPayload, 0, len(customizations))
	for _, c := range customizations {
		out = append(out, customizationPayload{
			Technique:         string(c.Technique),
			LocationID:        c.LocationID,
			LocationName:      c.LocationName,
			SizeName:          c.SizeName,
			WidthCM:           c.WidthCM,
			HeightCM:          c.HeightCM,
			DesignURL:         c.DesignURL,
			DesignDescription: c.DesignDescription,
			PricePerUnit:      c.PricePerUnit,
			Quantity:          c.Quantity,
			Subtotal:          c.Subtotal,
			TierLabel:         c.TierLabel,
			MetersNeeded:      c.MetersNeeded,
		})
	}
	return out
}

type draftItemPayload struct {
	ProductID      string                 `json:"product_id"`
	ProductName    string                 `json:"product_name"`
	ProductColor   string                 `json:"product_color,omitempty"`
	BasePrice      int64                  `json:"base_price"`
	SizeBreakdown  map[string]int         `json:"size_breakdown"`
	Units          int                    `json:"units"`
	Customizations []customizationPayload `json:"customizations"`
}

type draftPayload struct {
	Items      []draftItemPayload `json:"items"`
	TotalUnits int                `json:"total_units"`
	TotalPrice int64              `json:"total_price"`
	UpdatedAt  string             `json:"updated_at,omitempty"`
}

func buildDraftPayload(draft domain.QuoteDraft) draftPayload {
	items := make([]draftItemPayload, 0, len(draft.Items))
	for _, item := range draft.Items {
		breakdown := item.SizeBreakdown
		if breakdown == nil {
			breakdown = map[string]int{}
		}
		items = append(items, draftItemPayload{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			ProductColor:   item.ProductColor,
			BasePrice:      item.BasePrice,
			SizeBreakdown:  breakdown,
			Units:          item.Units(),
			Customizations: buildCustomizationPayloads(item.Customizations),
		})
	}
	return draftPayload{
		Items:      items,
		TotalUnits: draft.TotalUnits(),
		TotalPrice: draft.TotalPrice(),
		UpdatedAt:  formatTime(draft.UpdatedAt),
	}
}

type quotationItemPayload struct {
	ProductID       string                 `json:"product_id"`
	ProductName     string                 `json:"product_name"`
	ProductColor    string                 `json:"product_color,omitempty"`
	BasePrice       int64                  `json:"base_price"`
	SizeBreakdown   map[string]int         `json:"size_breakdown"`
	Units           int                    `json:"units"`
	Customizations  []customizationPayload `json:"customizations"`
	Subtotal        int64                  `json:"subtotal"`
	DiscountPercent float64                `json:"discount_percent,omitempty"`
	DiscountAmount  int64                  `json:"discount_amount,omitempty"`
	ItemTotal       int64                  `json:"item_total"`
}

func buildQuotationItemPayloads(items []domain.QuotationItem) []quotationItemPayload {
	out := make([]quotationItemPayload, 0, len(items))
	for _, item := range items {
		breakdown := item.SizeBreakdown
		if breakdown == nil {
			breakdown = map[string]int{}
		}
		out = append(out, quotationItemPayload{
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			ProductColor:    item.ProductColor,
			BasePrice:       item.BasePrice,
			SizeBreakdown:   breakdown,
			Units:           item.Units(),
			Customizations:  buildCustomizationPayloads(item.Customizations),
			Subtotal:        item.Subtotal,
			DiscountPercent: item.DiscountPercent,
			DiscountAmount:  item.DiscountAmount,
			ItemTotal:       item.ItemTotal,
		})
	}
	return out
}

type quotationPayload struct {
	ID                          string                 `json:"id"`
	QuotationNumber             string                 `json:"quotation_number"`
	ClientID                    string                 `json:"client_id"`
	CommercialID                string                 `json:"commercial_id,omitempty"`
	Status                      string                 `json:"status"`
	Items                       []quotationItemPayload `json:"items"`
	Subtotal                    int64                  `json:"subtotal"`
	IVAPercent                  float64                `json:"iva_percent"`
	IVAAmount                   int64                  `json:"iva_amount"`
	Total                       int64                  `json:"total"`
	TotalUnits                  int                    `json:"total_units"`
	EstimatedDays               *int                   `json:"estimated_days"`
	EstimatedDaysNote           string                 `json:"estimated_days_note,omitempty"`
	RequiresCommercialApproval  bool                   `json:"requires_commercial_approval"`
	ClientDeliveryPreference    string                 `json:"client_delivery_preference,omitempty"`
	DeliveryPreferenceConfirmed bool                   `json:"delivery_preference_confirmed"`
	RejectionReason             string                 `json:"rejection_reason,omitempty"`
	ExpiresAt                   string                 `json:"expires_at,omitempty"`
	CreatedAt                   string                 `json:"created_at,omitempty"`
	UpdatedAt                   string                 `json:"updated_at,omitempty"`
}

func buildQuotationPayload(q domain.Quotation) quotationPayload {
	return quotationPayload{
		ID:                          q.ID,
		QuotationNumber:             q.QuotationNumber,
		ClientID:                    q.ClientID,
		CommercialID:                q.CommercialID,
		Status:                      string(q.Status),
		Items:                       buildQuotationItemPayloads(q.Items),
		Subtotal:                    q.Subtotal,
		IVAPercent:                  q.IVAPercent,
		IVAAmount:                   q.IVAAmount,
		Total:                       q.Total,
		TotalUnits:                  q.TotalUnits,
		EstimatedDays:               q.EstimatedDays,
		EstimatedDaysNote:           q.EstimatedDaysNote,
		RequiresCommercialApproval:  q.RequiresCommercialApproval,
		ClientDeliveryPreference:    string(q.ClientDeliveryPreference),
		DeliveryPreferenceConfirmed: q.DeliveryPreferenceConfirmed,
		RejectionReason:             q.RejectionReason,
		ExpiresAt:                   formatTime(q.ExpiresAt),
		CreatedAt:                   formatTime(q.CreatedAt),
		UpdatedAt:                   formatTime(q.UpdatedAt),
	}
}

type paymentPayload struct {
	Method     string `json:"method"`
	ProofURL   string `json:"proof_url,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
	VerifiedBy string `json:"verified_by,omitempty"`
	VerifiedAt string `json:"verified_at,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type deliveryWindowPayload struct {
	Quantity      int    `json:"quantity"`
	ScheduledDate string `json:"scheduled_date"`
	Delivered     bool   `json:"delivered"`
	DeliveredAt   string `json:"delivered_at,omitempty"`
	Tracking      string `json:"tracking,omitempty"`
}

type deliveryPayload struct {
	Type     string                  `json:"type"`
	Schedule []deliveryWindowPayload `json:"schedule,omitempty"`
}

type orderPayload struct {
	ID           string                 `json:"id"`
	OrderNumber  string                 `json:"order_number"`
	QuotationID  string                 `json:"quotation_id"`
	ClientID     string                 `json:"client_id"`
	CommercialID string                 `json:"commercial_id,omitempty"`
	Status       string                 `json:"status"`
	Items        []quotationItemPayload `json:"items"`
	Subtotal     int64                  `json:"subtotal"`
	IVAAmount    int64                  `json:"iva_amount"`
	Total        int64                  `json:"total"`
	Payment      paymentPayload         `json:"payment"`
	Delivery     deliveryPayload        `json:"delivery"`
	Notes        string                 `json:"notes,omitempty"`
	CreatedAt    string                 `json:"created_at,omitempty"`
	UpdatedAt    string                 `json:"updated_at,omitempty"`
	CompletedAt  string                 `json:"completed_at,omitempty"`
}

func buildOrderPayload(o domain.Order) orderPayload {
	schedule := make([]deliveryWindowPayload, 0, len(o.Delivery.Schedule))
	for _, window := range o.Delivery.Schedule {
		schedule = append(schedule, deliveryWindowPayload{
			Quantity:      window.Quantity,
			ScheduledDate: formatTime(window.ScheduledDate),
			Delivered:     window.Delivered,
			DeliveredAt:   formatTimePtr(window.DeliveredAt),
			Tracking:      window.Tracking,
		})
	}
	return orderPayload{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		QuotationID:  o.QuotationID,
		ClientID:     o.ClientID,
		CommercialID: o.CommercialID,
		Status:       string(o.Status),
		Items:        buildQuotationItemPayloads(o.Items),
		Subtotal:     o.Subtotal,
		IVAAmount:    o.IVAAmount,
		Total:        o.Total,
		Payment: paymentPayload{
			Method:     string(o.Payment.Method),
			ProofURL:   o.Payment.ProofURL,
			UploadedAt: formatTimePtr(o.Payment.UploadedAt),
			VerifiedBy: o.Payment.VerifiedBy,
			VerifiedAt: formatTimePtr(o.Payment.VerifiedAt),
			Notes:      o.Payment.Notes,
		},
		Delivery: deliveryPayload{
			Type:     string(o.Delivery.Type),
			Schedule: schedule,
		},
		Notes:       o.Notes,
		CreatedAt:   formatTime(o.CreatedAt),
		UpdatedAt:   formatTime(o.UpdatedAt),
		CompletedAt: formatTimePtr(o.CompletedAt),
	}
}

// Users and designs -----------------------------------------------------------

type userPayload struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CompanyName string `json:"company_name,omitempty"`
	NIT         string `json:"nit,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	WhatsApp    string `json:"whatsapp,omitempty"`
	City        string `json:"city,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at,omitempty"`
	LastLogin   string `json:"last_login,omitempty"`
}

func buildUserPayload(u domain.User) userPayload {
	return userPayload{
		UID:         u.UID,
		Email:       u.Email,
		Role:        string(u.Role),
		CompanyName: u.CompanyName,
		NIT:         u.NIT,
		ContactName: u.ContactName,
		WhatsApp:    u.WhatsApp,
		City:        u.City,
		AssignedTo:  u.AssignedTo,
		Active:      u.Active,
		CreatedAt:   formatTime(u.CreatedAt),
		LastLogin:   formatTimePtr(u.LastLogin),
	}
}

type designPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	URL              string `json:"url,omitempty"`
	ThumbnailURL     string `json:"thumbnail_url,omitempty"`
	OriginalFileName string `json:"original_file_name,omitempty"`
	FileType         string `json:"file_type"`
	FileSizeBytes    int64  `json:"file_size_bytes"`
	UploadedAt       string `json:"uploaded_at,omitempty"`
	UsedInQuotes     int    `json:"used_in_quotes"`
	UsedInOrders     int    `json:"used_in_orders"`
	IsPublic         bool   `json:"is_public"`
}

func buildDesignPayload(d domain.UploadedDesign) designPayload {
	return designPayload{
		ID:               d.ID,
		Name:             d.Name,
		URL:              d.URL,
		ThumbnailURL:     d.ThumbnailURL,
		OriginalFileName: d.OriginalFileName,
		FileType:         string(d.FileType),
		FileSizeBytes:    d.FileSizeBytes,
		UploadedAt:       formatTime(d.UploadedAt),
		UsedInQuotes:     len(d.UsedInQuotes),
		UsedInOrders:     len(d.UsedInOrders),
		IsPublic:         d.IsPublic,
	}
}
