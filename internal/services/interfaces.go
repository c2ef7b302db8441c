package services

import (
	"context"
	"io"
	"time"

	domain "github.com/printy-garments/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination             = domain.Pagination
	SortOrder              = domain.SortOrder
	Product                = domain.Product
	ProductCategory        = domain.ProductCategory
	PersonalizationConfig  = domain.PersonalizationConfig
	PrintTechnique         = domain.PrintTechnique
	PrintSize              = domain.PrintSize
	PrintLocation          = domain.PrintLocation
	VolumeTier             = domain.VolumeTier
	User                   = domain.User
	Role                   = domain.Role
	QuoteDraft             = domain.QuoteDraft
	QuoteDraftItem         = domain.QuoteDraftItem
	Quotation              = domain.Quotation
	QuotationItem          = domain.QuotationItem
	QuotationStatus        = domain.QuotationStatus
	QuotationCustomization = domain.QuotationCustomization
	DeliveryPreference     = domain.DeliveryPreference
	Order                  = domain.Order
	OrderStatus            = domain.OrderStatus
	OrderPayment           = domain.OrderPayment
	OrderDelivery          = domain.OrderDelivery
	DeliveryWindow         = domain.DeliveryWindow
	PaymentMethod          = domain.PaymentMethod
	UploadedDesign         = domain.UploadedDesign
	DesignFileType         = domain.DesignFileType
	SystemHealthReport     = domain.SystemHealthReport
)

// PricingEngine prices individual print customizations against a technique
// configuration and formats COP amounts.
type PricingEngine interface {
	PriceCustomization(cfg PersonalizationConfig, input CustomizationPriceInput) (CustomizationPrice, error)
	FormatPrice(amount int64) string
}

// QuoteDraftService manages the single working draft each client assembles
// before submission. Every mutation reprices the whole draft so stored
// customization subtotals never go stale.
type QuoteDraftService interface {
	GetDraft(ctx context.Context, clientID string) (QuoteDraft, error)
	AddItem(ctx context.Context, cmd AddDraftItemCommand) (QuoteDraft, error)
	RemoveItem(ctx context.Context, cmd RemoveDraftItemCommand) (QuoteDraft, error)
	UpdateSizeBreakdown(ctx context.Context, cmd UpdateSizeBreakdownCommand) (QuoteDraft, error)
	AddCustomization(ctx context.Context, cmd AddCustomizationCommand) (QuoteDraft, error)
	RemoveCustomization(ctx context.Context, cmd RemoveCustomizationCommand) (QuoteDraft, error)
	ClearDraft(ctx context.Context, clientID string) error
}

// QuotationService owns quotation submission, review decisions, listings,
// and the scheduled expiry sweep.
type QuotationService interface {
	Submit(ctx context.Context, cmd SubmitQuotationCommand) (Quotation, error)
	GetQuotation(ctx context.Context, cmd GetQuotationCommand) (Quotation, error)
	ListQuotations(ctx context.Context, filter QuotationListQuery) (domain.CursorPage[Quotation], error)
	Approve(ctx context.Context, cmd ApproveQuotationCommand) (ApproveQuotationResult, error)
	Reject(ctx context.Context, cmd RejectQuotationCommand) (Quotation, error)
	ExpireStale(ctx context.Context, batchSize int) (int, error)
}

// OrderService encapsulates order reads, Kanban status moves, the manual
// payment flow, and delivery scheduling.
type OrderService interface {
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListQuery) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	AttachPaymentProof(ctx context.Context, cmd AttachPaymentProofCommand) (Order, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	UpdateDeliverySchedule(ctx context.Context, cmd UpdateDeliveryScheduleCommand) (Order, error)
	MarkWindowDelivered(ctx context.Context, cmd MarkWindowDeliveredCommand) (Order, error)
}

// CatalogService serves the public catalog and admin-side catalog and
// personalization configuration management.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductListQuery) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	ArchiveProduct(ctx context.Context, productID string) (Product, error)
	GetPersonalizationConfig(ctx context.Context, technique PrintTechnique) (PersonalizationConfig, error)
	UpsertPersonalizationConfig(ctx context.Context, cmd UpsertPersonalizationConfigCommand) (PersonalizationConfig, error)
	ListLocations(ctx context.Context, technique PrintTechnique) ([]PrintLocation, error)
}

// UserService handles caller profiles and admin account management.
type UserService interface {
	GetProfile(ctx context.Context, uid string) (User, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error)
	TouchLastLogin(ctx context.Context, uid string) error
	CreateUser(ctx context.Context, cmd CreateUserCommand) (User, error)
	ListUsers(ctx context.Context, filter UserListQuery) (domain.CursorPage[User], error)
	AssignCommercial(ctx context.Context, cmd AssignCommercialCommand) (User, error)
	SetActive(ctx context.Context, cmd SetUserActiveCommand) (User, error)
}

// DesignService manages uploaded artwork: upload intents, registration,
// listing, usage tracking, and deletion.
type DesignService interface {
	IssueUploadIntent(ctx context.Context, cmd DesignUploadIntentCommand) (DesignUploadIntent, error)
	RegisterDesign(ctx context.Context, cmd RegisterDesignCommand) (UploadedDesign, error)
	ListDesigns(ctx context.Context, cmd ListDesignsCommand) (domain.CursorPage[UploadedDesign], error)
	MarkUsedInQuote(ctx context.Context, designID string, quotationID string) error
	DeleteDesign(ctx context.Context, cmd DeleteDesignCommand) error
}

// CounterService allocates gap-tolerant but collision-free sequence values
// used for quotation and order numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextQuotationNumber(ctx context.Context) (string, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// QuotationEventPublisher emits quotation lifecycle events to interested
// consumers (notifications, analytics).
type QuotationEventPublisher interface {
	PublishQuotationEvent(ctx context.Context, event QuotationEvent) error
}

// OrderEventPublisher emits order lifecycle events.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// ProofStore persists payment proof objects and returns their storage URL.
// Satisfied by storage.ProofUploader.
type ProofStore interface {
	StoreProof(ctx context.Context, orderID, fileName, contentType string, sizeBytes int64, body io.Reader) (string, error)
}

// Command and DTO definitions ------------------------------------------------

// CustomizationPriceInput identifies the print to price. Quantity is the
// whole-quote unit count.
type CustomizationPriceInput struct {
	SizeName string
	WidthCM  float64
	HeightCM float64
	Quantity int
}

// CustomizationPrice is the pricing engine output for one print.
type CustomizationPrice struct {
	PricePerUnit int64
	Subtotal     int64
	TierLabel    string
	MetersNeeded float64
}

type AddDraftItemCommand struct {
	ClientID      string
	ProductID     string
	SizeBreakdown map[string]int
}

type RemoveDraftItemCommand struct {
	ClientID  string
	ItemIndex int
}

type UpdateSizeBreakdownCommand struct {
	ClientID      string
	ItemIndex     int
	SizeBreakdown map[string]int
}

type AddCustomizationCommand struct {
	ClientID          string
	ItemIndex         int
	Technique         PrintTechnique
	LocationID        string
	SizeName          string
	DesignURL         string
	DesignDescription string
}

type RemoveCustomizationCommand struct {
	ClientID           string
	ItemIndex          int
	CustomizationIndex int
}

type SubmitQuotationCommand struct {
	ClientID           string
	DeliveryPreference DeliveryPreference
	EstimatedDaysNote  string
}

type GetQuotationCommand struct {
	QuotationID string
	Actor       Actor
}

// QuotationListQuery scopes listings by the caller's role before delegating
// to the repository filter.
type QuotationListQuery struct {
	Actor         Actor
	Status        []QuotationStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    Pagination
}

type ApproveQuotationCommand struct {
	QuotationID string
	Actor       Actor
}

// ApproveQuotationResult carries both sides of the atomic approval.
type ApproveQuotationResult struct {
	Quotation Quotation
	Order     Order
}

type RejectQuotationCommand struct {
	QuotationID string
	Actor       Actor
	Reason      string
}

type GetOrderCommand struct {
	OrderID string
	Actor   Actor
}

type OrderListQuery struct {
	Actor         Actor
	Status        []OrderStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    Pagination
}

type OrderStatusTransitionCommand struct {
	OrderID string
	Actor   Actor
	Status  OrderStatus
	Note    string
}

type AttachPaymentProofCommand struct {
	OrderID     string
	Actor       Actor
	FileName    string
	ContentType string
	SizeBytes   int64
	Body        io.Reader
}

type VerifyPaymentCommand struct {
	OrderID string
	Actor   Actor
	Notes   string
}

type UpdateDeliveryScheduleCommand struct {
	OrderID  string
	Actor    Actor
	Type     domain.DeliveryType
	Schedule []DeliveryWindow
}

type MarkWindowDeliveredCommand struct {
	OrderID     string
	Actor       Actor
	WindowIndex int
	Tracking    string
}

type ProductListQuery struct {
	Category      *ProductCategory
	OnlyAvailable bool
	Pagination    Pagination
}

type UpsertProductCommand struct {
	Product Product
	ActorID string
}

type UpsertPersonalizationConfigCommand struct {
	Config  PersonalizationConfig
	ActorID string
}

type UpdateProfileCommand struct {
	UID         string
	CompanyName string
	NIT         string
	ContactName string
	WhatsApp    string
	City        string
}

type CreateUserCommand struct {
	UID         string
	Email       string
	Role        Role
	CompanyName string
	NIT         string
	ContactName string
	WhatsApp    string
	City        string
	AssignedTo  string
}

type UserListQuery struct {
	Role       *Role
	AssignedTo string
	OnlyActive bool
	Pagination Pagination
}

type AssignCommercialCommand struct {
	ClientUID     string
	CommercialUID string
	ActorID       string
}

type SetUserActiveCommand struct {
	UID     string
	Active  bool
	ActorID string
}

type DesignUploadIntentCommand struct {
	UserID      string
	FileName    string
	ContentType string
	SizeBytes   int64
}

// DesignUploadIntent is a signed PUT URL plus the object path the client
// must upload to before registering the design.
type DesignUploadIntent struct {
	DesignID  string
	UploadURL string
	ObjectURL string
	ExpiresAt time.Time
}

type RegisterDesignCommand struct {
	DesignID         string
	UserID           string
	Name             string
	OriginalFileName string
	ContentType      string
	SizeBytes        int64
	IsPublic         bool
}

type ListDesignsCommand struct {
	UserID     string
	FileType   *DesignFileType
	Pagination Pagination
}

type DeleteDesignCommand struct {
	DesignID string
	Actor    Actor
}

type CounterCommand struct {
	CounterID string
	Step      int64
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, seq int64) string
}

// CounterValue is an allocated sequence value and its formatted rendering.
type CounterValue struct {
	Value     int64
	Formatted string
}

// Actor identifies the authenticated caller for authorisation decisions
// inside services.
type Actor struct {
	UID  string
	Role Role
}

// IsStaff reports whether the actor holds a staff role.
func (a Actor) IsStaff() bool {
	return a.Role == domain.RoleCommercial || a.Role == domain.RoleAdmin
}

// QuotationEvent is published on quotation lifecycle changes.
type QuotationEvent struct {
	Type        string
	QuotationID string
	ClientID    string
	Status      QuotationStatus
	OccurredAt  time.Time
	Metadata    map[string]any
}

// OrderEvent is published on order lifecycle changes.
type OrderEvent struct {
	Type       string
	OrderID    string
	ClientID   string
	Status     OrderStatus
	OccurredAt time.Time
	Metadata   map[string]any
}
