package storage

import "testing"

func TestBuildDesignUploadPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeDesignUpload, PathParams{
		UserID:   "uid123",
		DesignID: "dsg789",
		FileName: "logo.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "designs/uid123/dsg789/logo.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildPaymentProofPath(t *testing.T) {
	path, err := BuildObjectPath(PurposePaymentProof, PathParams{
		OrderID:  "order123",
		FileName: "transfer.pdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/order123/proofs/transfer.pdf"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeDesignUpload, PathParams{
		UserID:   "uid",
		DesignID: "../bad",
		FileName: "file.png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}
