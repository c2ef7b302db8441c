//go:build integration

package firestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	domain "github.com/printy-garments/api/internal/domain"
	pconfig "github.com/printy-garments/api/internal/platform/config"
	pfirestore "github.com/printy-garments/api/internal/platform/firestore"
)

func TestQuotationRepositoryExpireStaleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	endpoint := emulatorEndpoint(t)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "printy-quotation-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewQuotationRepository(provider)
	if err != nil {
		t.Fatalf("new quotation repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cutoff := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	created := cutoff.Add(-72 * time.Hour)

	// Three stale pending quotations plus one that has not expired yet.
	for i := 0; i < 3; i++ {
		insertPendingQuotation(ctx, t, repo, fmt.Sprintf("qt-stale-%d", i), cutoff.Add(-time.Hour), created)
	}
	insertPendingQuotation(ctx, t, repo, "qt-fresh", cutoff.Add(24*time.Hour), created)

	// batchSize below the stale count forces the sweep through several
	// query-and-write rounds.
	expired, err := repo.ExpireStale(ctx, cutoff, 2)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if expired != 3 {
		t.Fatalf("expected 3 expired quotations, got %d", expired)
	}

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("qt-stale-%d", i)
		quotation, err := repo.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("find %s: %v", id, err)
		}
		if quotation.Status != domain.QuotationStatusExpired {
			t.Fatalf("expected %s expired, got %s", id, quotation.Status)
		}
		if !quotation.UpdatedAt.Equal(cutoff) {
			t.Fatalf("expected %s updatedAt %v, got %v", id, cutoff, quotation.UpdatedAt)
		}
	}

	fresh, err := repo.FindByID(ctx, "qt-fresh")
	if err != nil {
		t.Fatalf("find qt-fresh: %v", err)
	}
	if fresh.Status != domain.QuotationStatusPendingApproval {
		t.Fatalf("expected fresh quotation untouched, got %s", fresh.Status)
	}

	// Re-running the sweep finds nothing left to transition.
	expired, err = repo.ExpireStale(ctx, cutoff, 2)
	if err != nil {
		t.Fatalf("expire stale rerun: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected rerun to expire 0 quotations, got %d", expired)
	}
}

func insertPendingQuotation(ctx context.Context, t *testing.T, repo *QuotationRepository, id string, expiresAt, createdAt time.Time) {
	t.Helper()

	err := repo.Insert(ctx, domain.Quotation{
		ID:              id,
		QuotationNumber: "Q-2026-" + id,
		ClientID:        "client-1",
		Status:          domain.QuotationStatusPendingApproval,
		Subtotal:        100000,
		IVAPercent:      19,
		IVAAmount:       19000,
		Total:           119000,
		TotalUnits:      10,
		ExpiresAt:       expiresAt,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}
