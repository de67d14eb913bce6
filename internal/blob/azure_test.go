package blob

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
)

func testTarget(t *testing.T) *Target {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte("unit-test-key"))
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	target, err := NewTarget("drafteracct", key, "outputs", logger)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	return target
}

func TestNewTargetRejectsBadKey(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if _, err := NewTarget("acct", "not-base64!!", "outputs", logger); err == nil {
		t.Fatal("expected error for a non-base64 key")
	}
}

func TestBlobURL(t *testing.T) {
	target := testTarget(t)

	got := target.BlobURL("01ABC.rfa")
	want := "https://drafteracct.blob.core.windows.net/outputs/01ABC.rfa"
	if got != want {
		t.Errorf("BlobURL = %q, want %q", got, want)
	}
}

func TestSignedUploadURL(t *testing.T) {
	target := testTarget(t)

	raw, err := target.SignedUploadURL(context.Background(), "01ABC.rfa")
	if err != nil {
		t.Fatalf("SignedUploadURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("signed url does not parse: %v", err)
	}
	if u.Host != "drafteracct.blob.core.windows.net" {
		t.Errorf("host = %q", u.Host)
	}
	if u.Path != "/outputs/01ABC.rfa" {
		t.Errorf("path = %q", u.Path)
	}

	q := u.Query()
	if q.Get("sig") == "" {
		t.Error("missing signature parameter")
	}
	if q.Get("se") == "" {
		t.Error("missing expiry parameter")
	}
	perms := q.Get("sp")
	for _, p := range []string{"r", "c", "w"} {
		if !strings.Contains(perms, p) {
			t.Errorf("permissions %q missing %q", perms, p)
		}
	}
}

func TestSignedURLsDifferPerBlob(t *testing.T) {
	target := testTarget(t)
	ctx := context.Background()

	a, err := target.SignedUploadURL(ctx, "a.rfa")
	if err != nil {
		t.Fatal(err)
	}
	b, err := target.SignedUploadURL(ctx, "b.rfa")
	if err != nil {
		t.Fatal(err)
	}

	sigA := mustQuery(t, a).Get("sig")
	sigB := mustQuery(t, b).Get("sig")
	if sigA == sigB {
		t.Error("signatures identical across blobs; SAS is not blob-scoped")
	}
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u.Query()
}
