package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tagcache "github.com/tag-cache/tag-cache"
	cachekey "github.com/tag-cache/tag-cache/pkg/cache-key"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	portFlag           int
	dbFilenameFlag     string
	configFilenameFlag string
	verbosityTraceFlag bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "catalog.db", "Catalog DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&configFilenameFlag, "config", "", "Path to lifecycle profiles config file")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")

	if version == "" {
		version = "DEV"
	}
}

// server serves catalog data through the cache and exposes the
// invalidation and metrics endpoints.
type server struct {
	cache   *tagcache.Cache
	catalog *catalog
	log     zerolog.Logger

	// path -> cache key, so path invalidation can reach InvalidateKey
	pathsMu sync.Mutex
	paths   map[string]string
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Str("version", version).Logger()

	cacheConfig := tagcache.Config{Namespace: "tag-cache"}
	if configFilenameFlag != "" {
		profiles, err := tagcache.LoadProfiles(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot load profiles config")
		}
		cacheConfig.Profiles = profiles
	}

	dbFilename := dbFilenameFlag
	if dbFilename == "memory" {
		dbFilename = "file::memory:?cache=shared"
	}
	cat, err := openCatalog(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open catalog db")
	}
	defer cat.close()

	cache := tagcache.CreateCache(cacheConfig)

	s := &server{
		cache:   cache,
		catalog: cat,
		log:     log.Logger,
		paths:   make(map[string]string),
	}

	r := chi.NewRouter()
	r.Get("/products", s.handleListProducts)
	r.Get("/products/{id}", s.handleGetProduct)
	r.Post("/products", s.handleAddProduct)
	r.Get("/profile", s.handleGetProfile)
	r.Get("/banner", s.handleGetBanner)
	r.Post("/-/invalidate/tag/{tag}", s.handleInvalidateTag)
	r.Post("/-/invalidate/path", s.handleInvalidatePath)
	r.Get("/-/stats", s.handleStats)
	r.Method("GET", "/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", portFlag),
		Handler: r,
	}
	go func() {
		log.Info().Msgf("Serving cached catalog on port %d", portFlag)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown")
	}
	if err := cache.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Abandoned in-flight revalidations on shutdown")
	}
}

func (s *server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	pol, _ := s.cache.Profile("minutes")
	value, status, err := s.cache.Populate(
		r.Context(), "listProducts", nil, cachekey.Global(), pol,
		[]string{"products"},
		func(ctx context.Context) (any, []string, error) {
			products, err := s.catalog.listProducts(ctx)
			return products, nil, err
		})
	s.respond(w, r, value, status, err)
}

func (s *server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pol, _ := s.cache.Profile("hours")
	value, status, err := s.cache.Populate(
		r.Context(), "getProduct", []string{id}, cachekey.Global(), pol,
		[]string{"products", "product:" + id},
		func(ctx context.Context) (any, []string, error) {
			p, err := s.catalog.getProduct(ctx, id)
			return p, nil, err
		})
	s.respond(w, r, value, status, err)
}

func (s *server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name  string `json:"name"`
		Cents int64  `json:"cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		http.Error(w, "Invalid product payload", http.StatusBadRequest)
		return
	}
	id, err := s.catalog.addProduct(r.Context(), in.Name, in.Cents)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not add product")
		http.Error(w, "Could not add product", http.StatusInternalServerError)
		return
	}
	// the data changed, so every product listing is now wrong
	count := s.cache.InvalidateTag("products")
	s.log.Debug().Int64("id", id).Int("invalidated", count).Msg("Added product")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int64{"id": id})
}

func (s *server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get("X-User")
	if user == "" {
		http.Error(w, "Missing X-User header", http.StatusUnauthorized)
		return
	}
	pol, _ := s.cache.Profile("minutes")
	value, status, err := s.cache.Populate(
		r.Context(), "getProfile", nil, cachekey.Private(user), pol,
		[]string{"profiles", "profile:" + user},
		func(ctx context.Context) (any, []string, error) {
			p, err := s.catalog.getProfile(ctx, user)
			return p, nil, err
		})
	s.respond(w, r, value, status, err)
}

// handleGetBanner varies on a bounded fingerprint of the request context.
// Only a handful of locale/channel combinations exist, so the partition
// count stays small.
func (s *server) handleGetBanner(w http.ResponseWriter, r *http.Request) {
	locale := r.Header.Get("X-Locale")
	if locale == "" {
		locale = "en"
	}
	channel := r.Header.Get("X-Channel")
	if channel == "" {
		channel = "web"
	}
	fingerprint := cachekey.Fingerprint(locale, channel)
	pol, _ := s.cache.Profile("hours")
	value, status, err := s.cache.Populate(
		r.Context(), "getBanner", nil, cachekey.Remote(fingerprint), pol,
		[]string{"banners"},
		func(ctx context.Context) (any, []string, error) {
			banner := fmt.Sprintf("Welcome (%s, %s)", locale, channel)
			return banner, nil, nil
		})
	s.respond(w, r, value, status, err)
}

func (s *server) handleInvalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	count := s.cache.InvalidateTag(tag)
	json.NewEncoder(w).Encode(map[string]int{"invalidated": count})
}

func (s *server) handleInvalidatePath(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "Missing path parameter", http.StatusBadRequest)
		return
	}
	s.pathsMu.Lock()
	key, ok := s.paths[path]
	s.pathsMu.Unlock()
	invalidated := ok && s.cache.InvalidateKey(key)
	json.NewEncoder(w).Encode(map[string]bool{"invalidated": invalidated})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.cache.Stats())
}

func (s *server) respond(w http.ResponseWriter, r *http.Request, value any, status tagcache.Status, err error) {
	if err != nil {
		s.log.Error().Err(err).Str("key", status.Key).Msg("Could not populate cache")
		http.Error(w, "Could not fetch data", http.StatusBadGateway)
		return
	}
	s.rememberPath(r.URL.Path, status.Key)
	w.Header().Set("Cache-Status", cacheStatusHeader(status))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(value)
}

func (s *server) rememberPath(path, key string) {
	s.pathsMu.Lock()
	s.paths[path] = key
	s.pathsMu.Unlock()
}

// cacheStatusHeader renders a Cache-Status response header value
// (hit / fwd, ttl and collapsed parameters).
func cacheStatusHeader(status tagcache.Status) string {
	var b strings.Builder
	b.WriteString("tag-cache")
	if status.Hit {
		b.WriteString("; hit")
	} else {
		b.WriteString("; fwd=uri-miss; stored")
	}
	if status.Collapsed {
		b.WriteString("; collapsed")
	}
	if status.TTL > 0 {
		fmt.Fprintf(&b, "; ttl=%d", int(status.TTL.Seconds()))
	}
	return b.String()
}
