package offlineproxy

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sm113/offline-proxy/cache"

	"github.com/rs/zerolog"
)

// offlineBody is the canned response body for API requests that fail
// while the origin is unreachable.
const offlineBody = `{"error":"Offline"}`

type Config struct {
	// Storage for cache buckets.
	Store cache.Store
	// Version tag naming the bucket owned by this worker.
	// All buckets with other names are deleted on activation.
	Version string
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Host treated as the remote API. Requests to it are network-only.
	APIHost string
	// Path segment identifying API requests, e.g. "/api/".
	// Requests whose path contains it are network-only.
	APIPathSegment string
	// Path prefix identifying static assets, served cache-first.
	// If empty, every request that is not an API request is treated
	// as a static asset.
	StaticPrefix string
	// Paths fetched from the origin and stored into the bucket
	// on install.
	Assets []string
	// Path of the precached page served when a static request fails
	// with no cached entry. If empty, the failure is surfaced to
	// the client as a gateway error.
	FallbackPath string
	// Store network-first responses into the bucket as they are
	// served to the client.
	WriteThrough bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Worker intercepts requests on their way to the origin and keeps a
// versioned cache bucket so the application stays usable offline.
// It serves requests only after Install and Activate have completed;
// until then it is a transparent pass-through proxy.
type Worker struct {
	store          cache.Store
	bucket         cache.Bucket
	version        string
	originURL      url.URL
	apiHost        string
	apiPathSegment string
	staticPrefix   string
	assets         []string
	fallbackPath   string
	writeThrough   bool
	client         http.Client
	log            zerolog.Logger
	controlling    atomic.Bool
}

// CreateWorker initializes the worker instance.
// It does not touch the cache or the network; call Install and
// Activate before serving.
func CreateWorker(config Config) *Worker {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Str("version", config.Version).
		Logger()

	wk := &Worker{
		store:          config.Store,
		version:        config.Version,
		originURL:      config.OriginURL,
		apiHost:        config.APIHost,
		apiPathSegment: config.APIPathSegment,
		staticPrefix:   config.StaticPrefix,
		assets:         config.Assets,
		fallbackPath:   config.FallbackPath,
		writeThrough:   config.WriteThrough,
		log:            logger,
	}

	wk.client = http.Client{
		// do not follow redirects
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	// use provided hostname for origin if configured
	if config.OriginHost != "" {
		wk.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: config.OriginHost,
			},
		}
	}

	return wk
}

type strategy string

const (
	strategyNetworkOnly  strategy = "network-only"
	strategyCacheFirst   strategy = "cache-first"
	strategyNetworkFirst strategy = "network-first"
)

// classify decides the handling strategy for a request.
// Rules are evaluated in order, first match wins.
func (wk *Worker) classify(r *http.Request) strategy {
	if wk.apiHost != "" && r.Host == wk.apiHost {
		return strategyNetworkOnly
	}
	if wk.apiPathSegment != "" && strings.Contains(r.URL.Path, wk.apiPathSegment) {
		return strategyNetworkOnly
	}
	if wk.staticPrefix == "" || strings.HasPrefix(r.URL.Path, wk.staticPrefix) {
		return strategyCacheFirst
	}
	return strategyNetworkFirst
}

// ServeHTTP implements the http.Handler interface.
// It is the fetch handler of the worker.
func (wk *Worker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !wk.controlling.Load() {
		wk.passThrough(w, r)
		return
	}
	switch st := wk.classify(r); st {
	case strategyNetworkOnly:
		wk.serveNetworkOnly(w, r)
	case strategyCacheFirst:
		wk.serveCacheFirst(w, r)
	default:
		wk.serveNetworkFirst(w, r)
	}
}

// serveNetworkOnly always goes to the origin and never consults the
// bucket. A transport failure gets the canned JSON error body.
func (wk *Worker) serveNetworkOnly(w http.ResponseWriter, r *http.Request) {
	res, err := wk.fetch(r)
	if err != nil {
		wk.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Origin unreachable for API request")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("Cache-Status", "offline-proxy; fwd=error")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, offlineBody)
		wk.logRequest(r, strategyNetworkOnly, false)
		return
	}
	w.Header().Add("Cache-Status", "offline-proxy; fwd=bypass")
	if err := send(w, res); err != nil {
		wk.log.Error().Err(err).Msg("Could not write response body to client")
	}
	wk.logRequest(r, strategyNetworkOnly, false)
}

// serveCacheFirst prefers the bucket over the network. A miss is
// fetched from the origin and stored as a side effect of serving it.
// If both the bucket and the network fail, the precached fallback
// page is served when one is configured.
func (wk *Worker) serveCacheFirst(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		key := requestKey(r)
		if b, ok, err := wk.bucket.Match(key); err != nil {
			wk.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		} else if ok {
			wk.sendStored(w, r, strategyCacheFirst, b)
			return
		}
	}

	res, err := wk.fetch(r)
	if err == nil {
		wk.sendAndSave(w, r, strategyCacheFirst, res)
		return
	}
	wk.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Origin unreachable for static request")

	if wk.fallbackPath != "" {
		key := http.MethodGet + ":" + wk.fallbackPath
		if b, ok, err := wk.bucket.Match(key); err == nil && ok {
			wk.sendStored(w, r, strategyCacheFirst, b)
			return
		}
		wk.log.Error().Str("path", wk.fallbackPath).Msg("Fallback page not in cache")
	}
	http.Error(w, "Could not get response", http.StatusBadGateway)
}

// serveNetworkFirst goes to the origin first and falls back to the
// bucket entry for the exact request. Successful responses are stored
// only if write-through is enabled.
func (wk *Worker) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	res, err := wk.fetch(r)
	if err == nil {
		if wk.writeThrough {
			wk.sendAndSave(w, r, strategyNetworkFirst, res)
		} else {
			w.Header().Add("Cache-Status", "offline-proxy; fwd=miss")
			if err := send(w, res); err != nil {
				wk.log.Error().Err(err).Msg("Could not write response body to client")
			}
			wk.logRequest(r, strategyNetworkFirst, false)
		}
		return
	}
	wk.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Origin unreachable, trying cache")

	if r.Method == http.MethodGet {
		key := requestKey(r)
		if b, ok, err := wk.bucket.Match(key); err == nil && ok {
			wk.sendStored(w, r, strategyNetworkFirst, b)
			return
		}
	}
	http.Error(w, "Could not get response", http.StatusBadGateway)
}

// passThrough just pipes the request through to the origin.
// Used before the worker has claimed control.
func (wk *Worker) passThrough(w http.ResponseWriter, r *http.Request) {
	res, err := wk.fetch(r)
	if err != nil {
		http.Error(w, "Could not get response", http.StatusBadGateway)
		return
	}
	if err := send(w, res); err != nil {
		wk.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// sendAndSave tees the origin response to the client and stores the
// recorded bytes into the bucket. The write happens in a goroutine so
// the response is not slowed down by it; racing writers for the same
// key are last-write-wins.
func (wk *Worker) sendAndSave(w http.ResponseWriter, r *http.Request, st strategy, res *http.Response) {
	// the bucket only holds GET responses
	if r.Method != http.MethodGet {
		if err := send(w, res); err != nil {
			wk.log.Error().Err(err).Msg("Could not write response body to client")
		}
		wk.logRequest(r, st, false)
		return
	}

	// set cache-status on underlying rw only (i.e. do not save to cache)
	w.Header().Add("Cache-Status", "offline-proxy; fwd=miss; stored")
	rwtee := NewResponseSaver(w)
	if err := send(rwtee, res); err != nil {
		wk.log.Error().Err(err).Msg("Could not write response body to client")
	}
	key := requestKey(r)
	// save to cache in goroutine (do not slow down response)
	go func() {
		if err := wk.bucket.Put(key, rwtee.Response()); err != nil {
			wk.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		} else {
			wk.log.Trace().Str("key", key).Msg("Cache write")
		}
	}()
	wk.logRequest(r, st, false)
}

// sendStored writes a previously stored response to the client.
func (wk *Worker) sendStored(w http.ResponseWriter, r *http.Request, st strategy, b []byte) {
	res, err := bytesToResponse(b)
	if err != nil {
		wk.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not read stored response")
		http.Error(w, "Could not get response", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", "offline-proxy; hit")
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		wk.log.Error().Err(err).Msg("Could not write response body to client")
	}
	wk.logRequest(r, st, true)
}

// fetch the resource specified in the incoming request from the origin
func (wk *Worker) fetch(r *http.Request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(
		r.Context(), r.Method, wk.originURL.String()+r.URL.RequestURI(), r.Body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Host = wk.originURL.Host
	return wk.client.Do(req)
}

func (wk *Worker) logRequest(r *http.Request, st strategy, hit bool) {
	wk.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("strategy", string(st)).
		Bool("hit", hit).
		Msg("Sending response to client")
}

// requestKey returns the bucket key for a request: method plus
// request URI, matching the keys written on install.
func requestKey(r *http.Request) string {
	return r.Method + ":" + r.URL.RequestURI()
}

// send writes an origin response to the client.
func send(w http.ResponseWriter, r *http.Response) error {
	defer r.Body.Close()
	copyHeader(w.Header(), r.Header)
	w.WriteHeader(r.StatusCode)
	_, err := io.Copy(w, r.Body)
	return err
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
