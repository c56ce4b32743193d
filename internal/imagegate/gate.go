// Package imagegate is the single save-time choke point for meal imagery. It
// makes sure only first-party image URLs reach durable state: ephemeral
// provider URLs are re-hosted through the permanent image store, and any
// failure degrades the meal to imagePending instead of failing the save.
package imagegate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"meal-board/internal/cache"
	"meal-board/internal/logging"
	"meal-board/internal/metrics"
	"meal-board/internal/storage"
)

// Ingestion statuses.
const (
	StatusAlreadyPermanent = "already_permanent"
	StatusIngested         = "ingested"
	StatusPending          = "pending"
	StatusFailed           = "failed"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultWorkers      = 4
	cacheKeyPrefix      = "img:"
)

// ImageStore is the permanent store the gate uploads through.
type ImageStore interface {
	Upload(ctx context.Context, req storage.UploadRequest) (storage.UploadResult, error)
	CheckExists(ctx context.Context, hash string) (string, error)
}

// EventRecorder persists ingestion outcomes for reporting.
type EventRecorder interface {
	Record(ctx context.Context, e metrics.IngestionEvent) error
}

// Options configures a Gate. Zero values get defaults.
type Options struct {
	FirstPartyPrefixes []string
	FetchTimeout       time.Duration
	Workers            int
	// HTTPClient downloads images. Nil gets a client that refuses loopback,
	// private and link-local destinations.
	HTTPClient         *http.Client
	Cache              cache.Cache
	Events             EventRecorder
	Logger             logrus.FieldLogger
}

// Gate classifies and ingests meal images.
type Gate struct {
	classifier   *Classifier
	store        ImageStore
	cache        cache.Cache
	httpClient   *http.Client
	fetchTimeout time.Duration
	workers      int
	events       EventRecorder
	log          logrus.FieldLogger
	inflight     singleflight.Group
}

// New creates a Gate backed by store.
func New(store ImageStore, opts Options) *Gate {
	g := &Gate{
		classifier:   NewClassifier(opts.FirstPartyPrefixes...),
		store:        store,
		cache:        opts.Cache,
		httpClient:   opts.HTTPClient,
		fetchTimeout: opts.FetchTimeout,
		workers:      opts.Workers,
		events:       opts.Events,
		log:          opts.Logger,
	}
	if g.cache == nil {
		g.cache = cache.Noop{}
	}
	if g.httpClient == nil {
		g.httpClient = newPublicClient()
	}
	if g.fetchTimeout <= 0 {
		g.fetchTimeout = defaultFetchTimeout
	}
	if g.workers <= 0 {
		g.workers = defaultWorkers
	}
	if g.log == nil {
		g.log = logging.Discard()
	}
	return g
}

// Classify reports how url must be treated.
func (g *Gate) Classify(url string) Classification {
	return g.classifier.Classify(url)
}

// IngestResult is the structured outcome of Ingest.
type IngestResult struct {
	Success      bool   `json:"success"`
	PermanentURL string `json:"permanentUrl,omitempty"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// Ingest re-hosts an external image. It never returns an error: download and
// upload problems come back as pending, unusable content as failed.
func (g *Gate) Ingest(ctx context.Context, imageURL, name string) IngestResult {
	cls := g.classifier.Classify(imageURL)
	if cls.IsFirstParty {
		return IngestResult{Success: true, PermanentURL: imageURL, Status: StatusAlreadyPermanent}
	}
	if !cls.NeedsIngestion {
		return IngestResult{Status: StatusFailed, Reason: cls.Reason}
	}

	sourceURL := imageURL
	if strings.HasPrefix(sourceURL, "//") {
		sourceURL = "https:" + sourceURL
	}

	start := time.Now()
	res := g.ingest(ctx, sourceURL, name)
	latency := time.Since(start)

	g.observe(ctx, sourceURL, res, latency)
	return res
}

func (g *Gate) ingest(ctx context.Context, sourceURL, name string) IngestResult {
	data, contentType, err := g.download(ctx, sourceURL)
	if err != nil {
		var bad *contentError
		if errors.As(err, &bad) {
			return IngestResult{Status: StatusFailed, Reason: bad.reason}
		}
		reason := "download_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		g.log.WithFields(logrus.Fields{"url": sourceURL, "error": err}).Warn("Image download failed, marking pending")
		return IngestResult{Status: StatusPending, Reason: reason}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	// The shared call outlives any single caller: waiters on the same hash
	// must not fail because the first requester went away.
	v, err, _ := g.inflight.Do(hash, func() (interface{}, error) {
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.fetchTimeout)
		defer cancel()
		return g.persist(persistCtx, hash, name, sourceURL, data, contentType)
	})
	if err != nil {
		g.log.WithFields(logrus.Fields{"url": sourceURL, "hash": hash, "error": err}).Warn("Image upload failed, marking pending")
		return IngestResult{Status: StatusPending, Reason: "upload_error"}
	}
	return IngestResult{Success: true, PermanentURL: v.(string), Status: StatusIngested}
}

// persist resolves hash to a permanent URL: cache, then the store, then upload.
func (g *Gate) persist(ctx context.Context, hash, name, sourceURL string, data []byte, contentType string) (string, error) {
	key := cacheKeyPrefix + hash
	if permanent, ok := g.cache.Get(ctx, key); ok {
		metrics.ObserveHashLookup("cache")
		return permanent, nil
	}

	existing, err := g.store.CheckExists(ctx, hash)
	if err != nil {
		return "", err
	}
	if existing != "" {
		metrics.ObserveHashLookup("store")
		g.cache.Set(ctx, key, existing)
		return existing, nil
	}

	res, err := g.store.Upload(ctx, storage.UploadRequest{
		ImageURL:    sourceURL,
		Name:        name,
		Hash:        hash,
		Data:        data,
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	metrics.ObserveHashLookup("upload")
	g.cache.Set(ctx, key, res.PermanentURL)
	return res.PermanentURL, nil
}

type contentError struct {
	reason string
}

func (e *contentError) Error() string { return e.reason }

// download fetches the image under the fetch timeout. HTML share pages are
// followed through their og:image once.
func (g *Gate) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
	defer cancel()

	data, contentType, err := storage.Fetch(ctx, g.httpClient, sourceURL)
	if err != nil {
		return nil, "", err
	}

	if isHTML(contentType, data) {
		imageURL, err := resolveOGImage(sourceURL, data)
		if err != nil {
			return nil, "", err
		}
		data, contentType, err = storage.Fetch(ctx, g.httpClient, imageURL)
		if err != nil {
			return nil, "", err
		}
		sourceURL = imageURL
	}

	if len(data) == 0 {
		return nil, "", &contentError{reason: "empty_body"}
	}
	contentType = storage.InferContentType(contentType, sourceURL, data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", &contentError{reason: "not_an_image"}
	}
	return data, contentType, nil
}

func isHTML(contentType string, data []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	return contentType == "" && strings.HasPrefix(http.DetectContentType(data), "text/html")
}

func resolveOGImage(pageURL string, page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", &contentError{reason: "unreadable_page"}
	}

	var ref string
	for _, sel := range []string{`meta[property="og:image"]`, `meta[name="twitter:image"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			ref = strings.TrimSpace(v)
			break
		}
	}
	if ref == "" {
		return "", &contentError{reason: "no_image_in_page"}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse page url: %w", err)
	}
	target, err := base.Parse(ref)
	if err != nil {
		return "", &contentError{reason: "no_image_in_page"}
	}
	return target.String(), nil
}

func (g *Gate) observe(ctx context.Context, sourceURL string, res IngestResult, latency time.Duration) {
	metrics.ObserveIngestion(res.Status, latency)
	if g.events == nil {
		return
	}

	host := ""
	if u, err := url.Parse(sourceURL); err == nil {
		host = u.Host
	}
	err := g.events.Record(context.WithoutCancel(ctx), metrics.IngestionEvent{
		Status:     res.Status,
		Reason:     res.Reason,
		SourceHost: host,
		LatencyMS:  latency.Milliseconds(),
	})
	if err != nil {
		g.log.WithError(err).Warn("Failed to record ingestion event")
	}
}
