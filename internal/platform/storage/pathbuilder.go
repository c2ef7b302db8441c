package storage

import (
	"fmt"
	"strings"
	"sync"
)

// AssetPurpose captures high-level intent for storage layout decisions.
type AssetPurpose string

const (
	PurposeDesignUpload AssetPurpose = "design-upload"
	PurposePaymentProof AssetPurpose = "payment-proof"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	UserID   string
	DesignID string
	OrderID  string
	FileName string
}

// PathBuilder composes the object path for a given asset purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuildersMu sync.RWMutex
	pathBuilders   = map[AssetPurpose]PathBuilder{
		PurposeDesignUpload: designUploadPath,
		PurposePaymentProof: paymentProofPath,
	}
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
// A nil builder unregisters the purpose.
func RegisterPathBuilder(purpose AssetPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()

	switch builder {
	case nil:
		delete(pathBuilders, purpose)
	default:
		pathBuilders[purpose] = builder
	}
}

func builderFor(purpose AssetPurpose) (PathBuilder, bool) {
	pathBuildersMu.RLock()
	defer pathBuildersMu.RUnlock()
	builder, ok := pathBuilders[purpose]
	return builder, ok
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	builder, ok := builderFor(purpose)
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

func designUploadPath(params PathParams) (string, error) {
	segments, err := pathSegments(map[string]string{
		"userID":   params.UserID,
		"designID": params.DesignID,
		"fileName": params.FileName,
	}, "userID", "designID", "fileName")
	if err != nil {
		return "", err
	}
	return "designs/" + strings.Join(segments, "/"), nil
}

func paymentProofPath(params PathParams) (string, error) {
	segments, err := pathSegments(map[string]string{
		"orderID":  params.OrderID,
		"fileName": params.FileName,
	}, "orderID", "fileName")
	if err != nil {
		return "", err
	}
	return "orders/" + segments[0] + "/proofs/" + segments[1], nil
}

// pathSegments validates each named value in order and returns them cleaned.
// Separators and traversal sequences are rejected so a hostile file name can
// never escape its prefix.
func pathSegments(values map[string]string, order ...string) ([]string, error) {
	segments := make([]string, 0, len(order))
	for _, name := range order {
		value := strings.TrimSpace(values[name])
		switch {
		case value == "":
			return nil, fmt.Errorf("storage: %s is required", name)
		case strings.ContainsAny(value, "/\\"):
			return nil, fmt.Errorf("storage: %s contains invalid path characters", name)
		case strings.Contains(value, ".."):
			return nil, fmt.Errorf("storage: %s contains invalid traversal sequence", name)
		}
		segments = append(segments, value)
	}
	return segments, nil
}
