package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/platform/storage"
	"github.com/printy-garments/api/internal/repositories"
)

var (
	// ErrDesignInvalidInput indicates the caller provided invalid arguments.
	ErrDesignInvalidInput = errors.New("design: invalid input")
	// ErrDesignNotFound indicates the requested design does not exist.
	ErrDesignNotFound = errors.New("design: not found")
	// ErrDesignForbidden indicates the caller may not touch the design.
	ErrDesignForbidden = errors.New("design: forbidden")
	// ErrDesignInUse indicates the design is referenced by quotations or orders.
	ErrDesignInUse = errors.New("design: in use")
	// ErrDesignTooLarge indicates the upload exceeds the size limit.
	ErrDesignTooLarge = errors.New("design: file too large")
	// ErrDesignUnsupportedType indicates the upload media type is not accepted.
	ErrDesignUnsupportedType = errors.New("design: unsupported file type")
)

const (
	designIDPrefix       = "dsg_"
	maxDesignUploadBytes = int64(20 * 1024 * 1024)
	uploadIntentTTL      = 15 * time.Minute
)

var designUploadContentTypes = map[string]domain.DesignFileType{
	"image/png":       domain.DesignFileImage,
	"image/jpeg":      domain.DesignFileImage,
	"image/webp":      domain.DesignFileImage,
	"application/pdf": domain.DesignFilePDF,
}

// UploadURLSigner issues signed storage URLs. Satisfied by storage.Client.
type UploadURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// DesignServiceDeps wires dependencies for the design service implementation.
type DesignServiceDeps struct {
	Designs repositories.DesignRepository
	Signer  UploadURLSigner
	Bucket  string
	Clock   func() time.Time
	IDGen   func() string
	Logger  func(context.Context, string, map[string]any)
}

type designService struct {
	designs   repositories.DesignRepository
	signer    UploadURLSigner
	bucket    string
	clock     func() time.Time
	idGen     func() string
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

// NewDesignService constructs a DesignService backed by the provided dependencies.
func NewDesignService(deps DesignServiceDeps) (DesignService, error) {
	if deps.Designs == nil {
		return nil, errors.New("design service: design repository is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("design service: upload url signer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("design service: bucket is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &designService{
		designs:   deps.Designs,
		signer:    deps.Signer,
		bucket:    bucket,
		clock:     func() time.Time { return clock().UTC() },
		idGen:     idGen,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// IssueUploadIntent returns a short-lived signed PUT URL the client uploads
// the artwork to before registering it.
func (s *designService) IssueUploadIntent(ctx context.Context, cmd DesignUploadIntentCommand) (DesignUploadIntent, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return DesignUploadIntent{}, fmt.Errorf("%w: user id is required", ErrDesignInvalidInput)
	}
	fileName := sanitizeFileName(cmd.FileName)
	if fileName == "" {
		return DesignUploadIntent{}, fmt.Errorf("%w: file name is required", ErrDesignInvalidInput)
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if _, ok := designUploadContentTypes[contentType]; !ok {
		return DesignUploadIntent{}, fmt.Errorf("%w: %s", ErrDesignUnsupportedType, cmd.ContentType)
	}
	if cmd.SizeBytes <= 0 {
		return DesignUploadIntent{}, fmt.Errorf("%w: file size is required", ErrDesignInvalidInput)
	}
	if cmd.SizeBytes > maxDesignUploadBytes {
		return DesignUploadIntent{}, fmt.Errorf("%w: %d bytes", ErrDesignTooLarge, cmd.SizeBytes)
	}

	designID := designIDPrefix + s.idGen()
	objectPath, err := storage.BuildObjectPath(storage.PurposeDesignUpload, storage.PathParams{
		UserID:   userID,
		DesignID: designID,
		FileName: fileName,
	})
	if err != nil {
		return DesignUploadIntent{}, fmt.Errorf("%w: %v", ErrDesignInvalidInput, err)
	}

	signed, err := s.signer.SignedURL(ctx, s.bucket, objectPath, storage.SignedURLOptions{
		Upload: &storage.UploadOptions{
			ContentType: contentType,
			MaxSize:     maxDesignUploadBytes,
			ExpiresIn:   uploadIntentTTL,
		},
	})
	if err != nil {
		return DesignUploadIntent{}, fmt.Errorf("design service: sign upload url: %w", err)
	}

	return DesignUploadIntent{
		DesignID:  designID,
		UploadURL: signed.URL,
		ObjectURL: fmt.Sprintf("gs://%s/%s", s.bucket, objectPath),
		ExpiresAt: signed.ExpiresAt,
	}, nil
}

// RegisterDesign persists the metadata for an artwork the client finished
// uploading.
func (s *designService) RegisterDesign(ctx context.Context, cmd RegisterDesignCommand) (UploadedDesign, error) {
	designID := strings.TrimSpace(cmd.DesignID)
	if designID == "" {
		return UploadedDesign{}, fmt.Errorf("%w: design id is required", ErrDesignInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return UploadedDesign{}, fmt.Errorf("%w: user id is required", ErrDesignInvalidInput)
	}
	fileName := sanitizeFileName(cmd.OriginalFileName)
	if fileName == "" {
		return UploadedDesign{}, fmt.Errorf("%w: file name is required", ErrDesignInvalidInput)
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	fileType, ok := designUploadContentTypes[contentType]
	if !ok {
		return UploadedDesign{}, fmt.Errorf("%w: %s", ErrDesignUnsupportedType, cmd.ContentType)
	}
	if cmd.SizeBytes <= 0 || cmd.SizeBytes > maxDesignUploadBytes {
		return UploadedDesign{}, fmt.Errorf("%w: %d bytes", ErrDesignTooLarge, cmd.SizeBytes)
	}

	name := s.sanitizer.Sanitize(strings.TrimSpace(cmd.Name))
	if name == "" {
		name = strings.TrimSuffix(fileName, path.Ext(fileName))
	}

	objectPath, err := storage.BuildObjectPath(storage.PurposeDesignUpload, storage.PathParams{
		UserID:   userID,
		DesignID: designID,
		FileName: fileName,
	})
	if err != nil {
		return UploadedDesign{}, fmt.Errorf("%w: %v", ErrDesignInvalidInput, err)
	}

	design := UploadedDesign{
		ID:               designID,
		UserID:           userID,
		Name:             name,
		URL:              fmt.Sprintf("gs://%s/%s", s.bucket, objectPath),
		OriginalFileName: fileName,
		FileType:         fileType,
		FileSizeBytes:    cmd.SizeBytes,
		UploadedAt:       s.clock(),
		IsPublic:         cmd.IsPublic,
	}

	if err := s.designs.Insert(ctx, design); err != nil {
		return UploadedDesign{}, err
	}
	return design, nil
}

func (s *designService) ListDesigns(ctx context.Context, cmd ListDesignsCommand) (domain.CursorPage[UploadedDesign], error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.CursorPage[UploadedDesign]{}, fmt.Errorf("%w: user id is required", ErrDesignInvalidInput)
	}
	return s.designs.ListByOwner(ctx, userID, repositories.DesignListFilter{
		FileType: cmd.FileType,
		Pagination: domain.Pagination{
			PageSize:  cmd.Pagination.PageSize,
			PageToken: strings.TrimSpace(cmd.Pagination.PageToken),
		},
	})
}

// MarkUsedInQuote records that a quotation references the design, which
// blocks deletion while the reference lives.
func (s *designService) MarkUsedInQuote(ctx context.Context, designID string, quotationID string) error {
	designID = strings.TrimSpace(designID)
	quotationID = strings.TrimSpace(quotationID)
	if designID == "" || quotationID == "" {
		return fmt.Errorf("%w: design id and quotation id are required", ErrDesignInvalidInput)
	}

	design, err := s.designs.FindByID(ctx, designID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrDesignNotFound, designID)
		}
		return err
	}
	if slices.Contains(design.UsedInQuotes, quotationID) {
		return nil
	}
	design.UsedInQuotes = append(design.UsedInQuotes, quotationID)
	return s.designs.Update(ctx, design)
}

func (s *designService) DeleteDesign(ctx context.Context, cmd DeleteDesignCommand) error {
	designID := strings.TrimSpace(cmd.DesignID)
	if designID == "" {
		return fmt.Errorf("%w: design id is required", ErrDesignInvalidInput)
	}

	design, err := s.designs.FindByID(ctx, designID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrDesignNotFound, designID)
		}
		return err
	}
	if design.UserID != cmd.Actor.UID && !cmd.Actor.IsStaff() {
		return ErrDesignForbidden
	}
	if design.InUse() {
		return fmt.Errorf("%w: referenced by %d quotations and %d orders", ErrDesignInUse, len(design.UsedInQuotes), len(design.UsedInOrders))
	}

	if err := s.designs.Delete(ctx, designID); err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	s.logger(ctx, "design.deleted", map[string]any{
		"designId": designID,
		"actor":    cmd.Actor.UID,
	})
	return nil
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = path.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	if name == "." || name == ".." {
		return ""
	}
	return name
}
