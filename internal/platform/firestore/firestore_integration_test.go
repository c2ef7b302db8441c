//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/printy-garments/api/internal/platform/config"
	pfirestore "github.com/printy-garments/api/internal/platform/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type fabricDoc struct {
	Name  string `firestore:"name"`
	Stock int    `firestore:"stock"`
}

// emulator manages a dockerised Firestore emulator for the duration of a
// test. Tests skip when docker is not usable on the host.
type emulator struct {
	endpoint    string
	containerID string
}

func startEmulator(t *testing.T) *emulator {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancelInfo := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelInfo()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}

	em := &emulator{
		endpoint:    fmt.Sprintf("127.0.0.1:%d", port),
		containerID: strings.TrimSpace(string(out)),
	}
	if em.containerID == "" {
		t.Fatalf("docker returned empty container id")
	}
	// Shorten the ID to match docker CLI behaviour for stop/remove commands.
	if len(em.containerID) > 12 {
		em.containerID = em.containerID[:12]
	}
	t.Cleanup(em.stop)

	em.awaitReady(t, 30*time.Second)
	return em
}

func (em *emulator) stop() {
	if em.containerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", em.containerID).Run()
}

func (em *emulator) awaitReady(t *testing.T, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", em.endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	em := startEmulator(t)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "printy-test",
		EmulatorHost: em.endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	switch client, err := provider.Client(ctx); {
	case err != nil:
		t.Fatalf("expected firestore client, got error: %v", err)
	case client == nil:
		t.Fatalf("provider returned nil client")
	}

	repo := pfirestore.NewBaseRepository[fabricDoc](provider, "fabrics", nil, nil)

	if _, err := repo.Set(ctx, "fab-algodon", fabricDoc{Name: "Algodon 180g", Stock: 40}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	doc, err := repo.Get(ctx, "fab-algodon")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "fab-algodon" {
		t.Fatalf("expected id fab-algodon, got %s", doc.ID)
	}
	if doc.Data.Name != "Algodon 180g" || doc.Data.Stock != 40 {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatalf("expected update time to be set")
	}

	if _, err := repo.Update(ctx, "fab-algodon", []firestore.Update{{Path: "stock", Value: 35}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	doc, err = repo.Get(ctx, "fab-algodon")
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if doc.Data.Stock != 35 {
		t.Fatalf("expected stock=35, got %d", doc.Data.Stock)
	}

	if docs, err := repo.Query(ctx, nil); err != nil {
		t.Fatalf("query failed: %v", err)
	} else if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	_, err = repo.Get(ctx, "missing")
	expectNotFoundClassification(t, err)

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "fab-algodon")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var fabric fabricDoc
		if err := snap.DataTo(&fabric); err != nil {
			return err
		}
		fabric.Stock--
		return tx.Set(ref, fabric)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err = repo.Get(ctx, "fab-algodon")
	if err != nil {
		t.Fatalf("get after transaction failed: %v", err)
	}
	if doc.Data.Stock != 34 {
		t.Fatalf("expected stock=34 after txn, got %d", doc.Data.Stock)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

// expectNotFoundClassification asserts that err carries the repository
// not-found classification used by the service layer.
func expectNotFoundClassification(t *testing.T, err error) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected not found error")
	}
	var cls interface{ IsNotFound() bool }
	if !errors.As(err, &cls) {
		t.Fatalf("expected repository error, got %v", err)
	}
	if !cls.IsNotFound() {
		t.Fatalf("expected not found classification")
	}
}
