package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"comfyrelay/internal/ports"
)

var fixedTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newStore(t *testing.T, endpoint, secret string) *Store {
	t.Helper()
	s, err := New(Config{
		Endpoint:  endpoint,
		Bucket:    "motions",
		Region:    "auto",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: secret,
	}, WithClock(testingclock.NewFakePassiveClock(fixedTime)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func signedPut(t *testing.T, s *Store, payload []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, s.ObjectURL("hy-motion/2024-01-02/walk.npz"), bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if err := s.Sign(context.Background(), req, payload, fixedTime); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return req
}

func TestSignIsDeterministic(t *testing.T) {
	s := newStore(t, "https://acct.r2.cloudflarestorage.com", "secret")
	payload := []byte("motion bytes")

	first := signedPut(t, s, payload)
	second := signedPut(t, s, payload)

	auth := first.Header.Get("Authorization")
	if auth == "" {
		t.Fatal("expected Authorization header")
	}
	if auth != second.Header.Get("Authorization") {
		t.Errorf("signature not reproducible:\n%s\n%s", auth, second.Header.Get("Authorization"))
	}

	wantPrefix := "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/auto/s3/aws4_request, SignedHeaders="
	if !strings.HasPrefix(auth, wantPrefix) {
		t.Errorf("unexpected Authorization %q", auth)
	}
	for _, h := range []string{"content-type", "host", "x-amz-content-sha256", "x-amz-date"} {
		if !strings.Contains(auth, h) {
			t.Errorf("expected %s in signed headers: %s", h, auth)
		}
	}
	if got := first.Header.Get("X-Amz-Date"); got != "20240102T030405Z" {
		t.Errorf("unexpected X-Amz-Date %q", got)
	}
	if got := first.Header.Get("X-Amz-Content-Sha256"); len(got) != 64 {
		t.Errorf("unexpected payload hash %q", got)
	}
}

func TestSignDependsOnInputs(t *testing.T) {
	base := newStore(t, "https://acct.r2.cloudflarestorage.com", "secret")
	other := newStore(t, "https://acct.r2.cloudflarestorage.com", "other-secret")

	a := signedPut(t, base, []byte("one")).Header.Get("Authorization")
	b := signedPut(t, other, []byte("one")).Header.Get("Authorization")
	c := signedPut(t, base, []byte("two")).Header.Get("Authorization")

	if a == b {
		t.Error("expected different signature for a different secret")
	}
	if a == c {
		t.Error("expected different signature for a different payload")
	}
}

// fakeBucket is a minimal in-memory object store keyed by request path.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	status  int
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 ") {
		http.Error(w, "missing signature", http.StatusForbidden)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		if f.status != 0 {
			http.Error(w, "denied", f.status)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			http.Error(w, "NoSuchKey", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	srv := httptest.NewServer(bucket)
	defer srv.Close()

	s := newStore(t, srv.URL, "secret")
	payload := []byte{0x93, 'N', 'U', 'M', 'P', 'Y', 0, 1, 2, 3}

	out, err := s.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "hy-motion/2024-01-02/walk_00001.npz",
		Reader:    bytes.NewReader(payload),
		Size:      int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("PutObject() error: %v", err)
	}
	if out.Reference != "hy-motion/2024-01-02/walk_00001.npz" {
		t.Errorf("unexpected reference %q", out.Reference)
	}
	if _, ok := bucket.objects["/motions/hy-motion/2024-01-02/walk_00001.npz"]; !ok {
		t.Errorf("expected object under bucket path, have %v", bucket.objects)
	}

	rc, _, _, err := s.GetObject(context.Background(), out.Reference)
	if err != nil {
		t.Fatalf("GetObject() error: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: %v != %v", got, payload)
	}

	if err := s.DeleteObject(context.Background(), out.Reference); err != nil {
		t.Fatalf("DeleteObject() error: %v", err)
	}
	if _, _, _, err := s.GetObject(context.Background(), out.Reference); err == nil {
		t.Error("expected error after delete")
	}
}

func TestPutObjectRejected(t *testing.T) {
	srv := httptest.NewServer(&fakeBucket{objects: map[string][]byte{}, status: http.StatusForbidden})
	defer srv.Close()

	_, err := newStore(t, srv.URL, "secret").PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "a/b.fbx",
		Reader:    strings.NewReader("x"),
	})

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no endpoint", Config{Bucket: "b"}},
		{"no bucket", Config{Endpoint: "https://x"}},
		{"bad endpoint", Config{Endpoint: "://", Bucket: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
