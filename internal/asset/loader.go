package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/ayusman/tryon/internal/metrics"
)

// Default load budgets.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Timeout bounds a whole Load as seen by the caller.
	Timeout time.Duration
	// FetchTimeout bounds the background fetch and decode. A load that
	// outlives Timeout keeps running until then so a later request for
	// the same URL can still hit the cache.
	FetchTimeout time.Duration
	Fetcher      Fetcher
	// Decoders builds the ordered decoder chain for one load. Every
	// decoder it returns is closed when the load ends.
	Decoders func() []Decoder
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Loader loads models by URL. Concurrent loads of one URL share a single
// fetch and decode; completed models are cached and handed out as clones.
type Loader struct {
	config LoaderConfig
	group  singleflight.Group

	mu    sync.Mutex
	cache map[string]*Model

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLoader creates a loader. Zero config fields take defaults: the draco
// then plain decoder chain, DefaultFetcher and a real clock.
func NewLoader(config LoaderConfig) *Loader {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Fetcher == nil {
		config.Fetcher = &DefaultFetcher{Logger: config.Logger}
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Decoders == nil {
		logger := config.Logger
		config.Decoders = func() []Decoder {
			return []Decoder{NewDracoDecoder("", logger), PlainDecoder{}}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		config: config,
		cache:  make(map[string]*Model),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Request creates a handle for loading url.
func (l *Loader) Request(url string) *Request {
	return &Request{loader: l, url: url}
}

// Cached reports whether url has a completed model in the cache.
func (l *Loader) Cached(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[url]
	return ok
}

// Close cancels background loads.
func (l *Loader) Close() error {
	l.cancel()
	return nil
}

func (l *Loader) cached(url string) (*Model, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.cache[url]
	return m, ok
}

// load fetches and decodes url, trying each decoder in order on the same
// bytes. It runs once per URL at a time.
func (l *Loader) load(url string) (*Model, error) {
	ctx, cancel := context.WithTimeout(l.ctx, l.config.FetchTimeout)
	defer cancel()

	logger := l.config.Logger.With("url", url)
	logger.Info("model loading")

	data, err := l.config.Fetcher.Fetch(ctx, url)
	if err != nil {
		metrics.AssetLoadsTotal.WithLabelValues("none", "fetch_error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrAssetFetch, err)
	}

	decoders := l.config.Decoders()
	defer func() {
		for _, d := range decoders {
			if err := d.Close(); err != nil {
				logger.Warn("decoder close failed", "decoder", d.Name(), "error", err)
			}
		}
	}()

	var errs []error
	for _, d := range decoders {
		root, err := d.Decode(ctx, data)
		if err != nil {
			metrics.AssetLoadsTotal.WithLabelValues(d.Name(), "decode_error").Inc()
			logger.Warn("model decode failed", "decoder", d.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}

		normalize(root)
		model := &Model{URL: url, Root: root, Decoder: d.Name()}

		l.mu.Lock()
		l.cache[url] = model
		l.mu.Unlock()

		metrics.AssetLoadsTotal.WithLabelValues(d.Name(), "success").Inc()
		logger.Info("model loaded", "decoder", d.Name(), "meshes", root.MeshCount(), "bytes", len(data))
		return model, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrAssetDecode, errors.Join(errs...))
}

// Request is one consumer's handle on a load. A newer request for the same
// consumer supersedes an older one; the older simply goes unused.
type Request struct {
	loader *Loader
	url    string

	mu     sync.Mutex
	closed bool
	model  *Model
}

// URL returns the requested URL.
func (r *Request) URL() string { return r.url }

// Load returns a private clone of the model, waiting at most the loader's
// timeout. On ErrAssetTimeout the underlying load keeps going and will
// populate the cache when it finishes.
func (r *Request) Load(ctx context.Context) (*Model, error) {
	if r.isClosed() {
		return nil, ErrRequestClosed
	}

	l := r.loader
	if m, ok := l.cached(r.url); ok {
		metrics.AssetCacheHitsTotal.Inc()
		return r.keep(m.Clone())
	}

	timeout := l.config.Clock.After(l.config.Timeout)
	ch := l.group.DoChan(r.url, func() (any, error) {
		return l.load(r.url)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return r.keep(res.Val.(*Model).Clone())
	case <-timeout:
		metrics.AssetLoadsTotal.WithLabelValues("none", "timeout").Inc()
		l.config.Logger.Warn("model load timed out", "url", r.url, "timeout", l.config.Timeout)
		return nil, fmt.Errorf("%w after %s", ErrAssetTimeout, l.config.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Request) keep(m *Model) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRequestClosed
	}
	r.model = m
	return m, nil
}

func (r *Request) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close drops the request's model. Calls after the first are no-ops.
func (r *Request) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.model = nil
	return nil
}
