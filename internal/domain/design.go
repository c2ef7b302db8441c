package domain

import (
	"time"
)

// DesignFileType enumerates the accepted design artwork formats.
type DesignFileType string

const (
	// DesignFileImage covers raster image uploads (PNG, JPEG, WebP).
	DesignFileImage DesignFileType = "image"
	// DesignFilePDF covers vector artwork delivered as PDF.
	DesignFilePDF DesignFileType = "pdf"
)

// UploadedDesign is a client's stored artwork file, reusable across
// quotations and orders.
type UploadedDesign struct {
	ID               string
	UserID           string
	Name             string
	URL              string
	ThumbnailURL     string
	OriginalFileName string
	FileType         DesignFileType
	FileSizeBytes    int64
	UploadedAt       time.Time
	UsedInQuotes     []string
	UsedInOrders     []string
	IsPublic         bool
}

// InUse reports whether any quotation or order references the design.
func (d UploadedDesign) InUse() bool {
	return len(d.UsedInQuotes) > 0 || len(d.UsedInOrders) > 0
}
