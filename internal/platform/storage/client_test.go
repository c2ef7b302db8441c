package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/printy-garments/api/internal/platform/auth"
)

const testSignerEmail = "printy-api@printy-garments.iam.gserviceaccount.com"

type fakeSigner struct {
	email string
	err   error

	signCalls   int
	lastPayload []byte
}

func (f *fakeSigner) Email() string { return f.email }

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.signCalls++
	f.lastPayload = append([]byte(nil), payload...)
	return []byte("signed"), nil
}

func newSignedClient(t *testing.T, signer *fakeSigner, clock func() time.Time) *Client {
	t.Helper()
	var opts []ClientOption
	if clock != nil {
		opts = append(opts, WithClock(clock))
	}
	client, err := NewClient(signer, opts...)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	return client
}

func TestSignedURLUploadSuccess(t *testing.T) {
	signer := &fakeSigner{email: testSignerEmail}
	now := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	client := newSignedClient(t, signer, func() time.Time { return now })

	opts := SignedURLOptions{Upload: &UploadOptions{
		Method:    "PUT",
		ExpiresIn: 10 * time.Minute,

		ContentType:         "image/png",
		AllowedContentTypes: []string{"image/png"},
		MaxSize:             1 << 20,

		ContentMD5: "xN0dYbCPv0CM0k9d1u8G7g==",
		RequireMD5: true,
	}}

	res, err := client.SignedURL(context.Background(), "printy-uploads", "designs/client-1/dsg_123/logo.png", opts)
	if err != nil {
		t.Fatalf("SignedURL returned error: %v", err)
	}

	if res.Method != httpMethodPut {
		t.Fatalf("expected method PUT, got %s", res.Method)
	}
	if want := now.Add(10 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, res.ExpiresAt)
	}
	for header, want := range map[string]string{
		"Content-Type":                "image/png",
		"Content-MD5":                 "xN0dYbCPv0CM0k9d1u8G7g==",
		"x-goog-content-length-range": "0,1048576",
	} {
		if got := res.Headers[header]; got != want {
			t.Fatalf("header %s: expected %q got %q", header, want, got)
		}
	}

	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("failed to parse signed URL: %v", err)
	}
	switch {
	case !strings.Contains(parsed.RawQuery, "X-Goog-Signature="):
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	case signer.signCalls == 0:
		t.Fatalf("expected signer to be invoked")
	}
}

func TestSignedURLUploadRejectsInvalidContentType(t *testing.T) {
	client := newSignedClient(t, &fakeSigner{email: testSignerEmail}, nil)

	opts := SignedURLOptions{Upload: &UploadOptions{
		Method:              "PUT",
		ContentType:         "application/pdf",
		AllowedContentTypes: []string{"image/png"},
	}}

	_, err := client.SignedURL(context.Background(), "printy-uploads", "proofs/client-123/ord-42/recibo.pdf", opts)
	if !errors.Is(err, errContentTypeDenied) {
		t.Fatalf("expected errContentTypeDenied, got %v", err)
	}
}

func TestSignedURLUploadRequiresMD5(t *testing.T) {
	client := newSignedClient(t, &fakeSigner{email: testSignerEmail}, nil)

	opts := SignedURLOptions{Upload: &UploadOptions{
		Method:      "PUT",
		ContentType: "image/png",
		RequireMD5:  true,
	}}

	_, err := client.SignedURL(context.Background(), "printy-uploads", "proofs/client-123/ord-42/recibo.pdf", opts)
	if !errors.Is(err, errMD5Required) {
		t.Fatalf("expected errMD5Required, got %v", err)
	}
}

func TestSignedURLDownloadPermissionDenied(t *testing.T) {
	client := newSignedClient(t, &fakeSigner{email: testSignerEmail}, nil)

	opts := SignedURLOptions{Download: &DownloadOptions{
		OwnerID:  "client-123",
		Identity: &auth.Identity{UID: "client-456"},
	}}

	_, err := client.SignedURL(context.Background(), "printy-uploads", "proofs/client-123/ord-42/recibo.pdf", opts)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSignedURLDownloadAllowsCommercial(t *testing.T) {
	now := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	client := newSignedClient(t, &fakeSigner{email: testSignerEmail}, func() time.Time { return now })

	opts := SignedURLOptions{Download: &DownloadOptions{
		OwnerID:   "client-123",
		Identity:  &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleCommercial}},
		ExpiresIn: 5 * time.Minute,
	}}

	res, err := client.SignedURL(context.Background(), "printy-uploads", "designs/client-123/dsg_987/mockup.png", opts)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	switch {
	case res.Method != httpMethodGet:
		t.Fatalf("expected GET method, got %s", res.Method)
	case !res.ExpiresAt.Equal(now.Add(5 * time.Minute)):
		t.Fatalf("unexpected expiry: %v", res.ExpiresAt)
	}
}

func TestSignedURLDownloadExpiryTooLong(t *testing.T) {
	client := newSignedClient(t, &fakeSigner{email: testSignerEmail}, nil)

	opts := SignedURLOptions{Download: &DownloadOptions{
		OwnerID:   "client-123",
		Identity:  &auth.Identity{UID: "client-123", Roles: []string{auth.RoleClient}},
		ExpiresIn: 30 * time.Minute,
	}}

	_, err := client.SignedURL(context.Background(), "printy-uploads", "proofs/client-123/ord-42/recibo.pdf", opts)
	if !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}
}
