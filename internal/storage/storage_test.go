package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"google.golang.org/api/option"
)

// pngBytes is the smallest header http.DetectContentType recognizes as PNG.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestImageStoreLocal(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()

	bucket, err := NewLocalBucket(tempDir, "https://board.test/")
	if err != nil {
		t.Fatalf("Failed to create LocalBucket: %v", err)
	}

	var fetches int32
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer source.Close()

	store := NewImageStore(bucket, source.Client())
	hash := "abc123def456"

	t.Run("CheckExists-False", func(t *testing.T) {
		url, err := store.CheckExists(ctx, hash)
		if err != nil {
			t.Fatalf("CheckExists failed: %v", err)
		}
		if url != "" {
			t.Errorf("Expected no existing image, got '%s'", url)
		}
	})

	t.Run("Upload-FetchesSource", func(t *testing.T) {
		res, err := store.Upload(ctx, UploadRequest{ImageURL: source.URL + "/dalle.png", Name: "Greek Salad!", Hash: hash})
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		wantPath := "meal-images/greek-salad-abc123def456.png"
		if res.ObjectPath != wantPath {
			t.Errorf("Expected object path '%s', got '%s'", wantPath, res.ObjectPath)
		}
		if res.PermanentURL != "https://board.test/images/"+wantPath {
			t.Errorf("Unexpected permanent url '%s'", res.PermanentURL)
		}
		if atomic.LoadInt32(&fetches) != 1 {
			t.Errorf("Expected 1 source fetch, got %d", fetches)
		}

		info, err := os.Stat(filepath.Join(tempDir, filepath.FromSlash(wantPath)))
		if err != nil {
			t.Fatalf("Expected object file to exist: %v", err)
		}
		if info.Mode().Perm() != 0644 {
			t.Errorf("Expected public-read permissions, got %v", info.Mode().Perm())
		}
	})

	t.Run("CheckExists-True", func(t *testing.T) {
		url, err := store.CheckExists(ctx, hash)
		if err != nil {
			t.Fatalf("CheckExists failed: %v", err)
		}
		if !strings.HasSuffix(url, "greek-salad-abc123def456.png") {
			t.Errorf("Expected existing image url, got '%s'", url)
		}
	})

	t.Run("Upload-WithData", func(t *testing.T) {
		res, err := store.Upload(ctx, UploadRequest{Name: "", Data: pngBytes})
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if !strings.HasPrefix(res.ObjectPath, "meal-images/meal-") || !strings.HasSuffix(res.ObjectPath, ".png") {
			t.Errorf("Expected random-id object path, got '%s'", res.ObjectPath)
		}
		if atomic.LoadInt32(&fetches) != 1 {
			t.Errorf("Expected no additional fetch when data is supplied")
		}
	})

	t.Run("Upload-SourceError", func(t *testing.T) {
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer broken.Close()

		if _, err := store.Upload(ctx, UploadRequest{ImageURL: broken.URL, Name: "x", Hash: "ff"}); err == nil {
			t.Fatal("Expected an error for an expired source, got nil")
		}
	})
}

func TestInferContentType(t *testing.T) {
	cases := []struct {
		declared, url string
		data          []byte
		want          string
	}{
		{"image/webp; charset=binary", "", nil, "image/webp"},
		{"application/octet-stream", "", pngBytes, "image/png"},
		{"", "https://x.test/a/photo.JPG?sig=1", []byte("????"), "image/jpeg"},
		{"text/plain", "https://x.test/a", []byte("hello"), "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := InferContentType(tc.declared, tc.url, tc.data); got != tc.want {
			t.Errorf("InferContentType(%q, %q) = %q, want %q", tc.declared, tc.url, got, tc.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName("  Mom's  Lasagna (v2) "); got != "mom-s-lasagna-v2" {
		t.Errorf("Unexpected slug '%s'", got)
	}
	if got := SanitizeName("!!!"); got != "meal" {
		t.Errorf("Expected fallback slug, got '%s'", got)
	}
	if got := SanitizeName(strings.Repeat("a", 100)); len(got) != maxNameLength {
		t.Errorf("Expected slug truncated to %d, got %d", maxNameLength, len(got))
	}
}

func TestGCSBucket(t *testing.T) {
	ctx := context.Background()
	var (
		mu            sync.Mutex
		uploaded, acl string
	)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			io.Copy(io.Discard, r.Body)
			acl = r.URL.Query().Get("predefinedAcl")
			uploaded = "meal-images/soup-deadbeef.png"
			json.NewEncoder(w).Encode(map[string]any{"name": uploaded, "bucket": "meals"})
		case http.MethodGet:
			items := []map[string]string{{"name": "meal-images/stew-0000.png"}}
			if uploaded != "" {
				items = append(items, map[string]string{"name": uploaded})
			}
			json.NewEncoder(w).Encode(map[string]any{"items": items})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer api.Close()

	bucket, err := NewGCSBucket(ctx, "meals", "",
		option.WithEndpoint(api.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewGCSBucket failed: %v", err)
	}

	t.Run("Put", func(t *testing.T) {
		attrs := ObjectAttrs{ContentType: "image/png", CacheControl: CacheControl}
		if err := bucket.Put(ctx, "meal-images/soup-deadbeef.png", attrs, pngBytes); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if acl != "publicRead" {
			t.Errorf("Expected publicRead ACL, got '%s'", acl)
		}
	})

	t.Run("FindContaining", func(t *testing.T) {
		name, ok, err := bucket.FindContaining(ctx, ObjectPrefix, "deadbeef")
		if err != nil {
			t.Fatalf("FindContaining failed: %v", err)
		}
		if !ok || name != "meal-images/soup-deadbeef.png" {
			t.Errorf("Expected to find uploaded object, got '%s' (%v)", name, ok)
		}

		_, ok, err = bucket.FindContaining(ctx, ObjectPrefix, "cafebabe")
		if err != nil || ok {
			t.Errorf("Expected no match, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("PublicURL", func(t *testing.T) {
		want := "https://storage.googleapis.com/meals/meal-images/x.png"
		if got := bucket.PublicURL("meal-images/x.png"); got != want {
			t.Errorf("Expected '%s', got '%s'", want, got)
		}
	})
}
