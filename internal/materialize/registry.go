// Package materialize turns raw output bytes into releasable resource handles
// that the frontend binds to media elements or download links.
//
// A handle's URL is served by Registry.Handler until the handle is released.
// Handles are never released automatically; whoever receives one owns its
// Release.
package materialize

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"media-extractor/internal/metrics"
)

// RoutePrefix is the URL path under which resources are served.
const RoutePrefix = "/resources/"

// ErrInvalidPayload reports raw output that cannot be normalized to bytes.
var ErrInvalidPayload = errors.New("invalid payload")

// ErrReleased reports a lookup of a released or unknown handle.
var ErrReleased = errors.New("resource released or unknown")

// Handle is an opaque, revocable reference to materialized bytes.
type Handle struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MIMEType string `json:"mimeType"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
}

type entry struct {
	handle Handle
	data   []byte
}

// Registry holds live resources.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Materialize normalizes raw into bytes and registers it under a new handle.
// raw may be []byte, an io.Reader, or a string holding base64 or a base64
// data: URL (the form bytes take when they cross the frontend bridge).
func (r *Registry) Materialize(raw any, mimeType string) (Handle, error) {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return Handle{}, fmt.Errorf("%w: mime type is required", ErrInvalidPayload)
	}

	data, err := Normalize(raw)
	if err != nil {
		return Handle{}, err
	}
	if len(data) == 0 {
		return Handle{}, fmt.Errorf("%w: empty content", ErrInvalidPayload)
	}

	id := uuid.NewString()
	h := Handle{
		ID:       id,
		URL:      RoutePrefix + id,
		MIMEType: mimeType,
		Filename: Filename(id, mimeType),
		Size:     len(data),
	}

	r.mu.Lock()
	r.entries[id] = entry{handle: h, data: data}
	r.mu.Unlock()

	metrics.ResourcesLive.Inc()
	return h, nil
}

// Release invalidates a handle. Releasing twice, or an unknown ID, is a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		metrics.ResourcesLive.Dec()
	}
}

// Open returns the handle and bytes for id.
func (r *Registry) Open(id string) (Handle, []byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Handle{}, nil, fmt.Errorf("%w: %s", ErrReleased, id)
	}
	return e.handle, e.data, nil
}

// Len returns the number of live resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handler serves GET /resources/{id}. With ?download=1 the response carries an
// attachment disposition. Released handles answer 404.
func (r *Registry) Handler() http.Handler {
	router := mux.NewRouter()
	r.Register(router)
	return router
}

// Register mounts the resource route on an existing router.
func (r *Registry) Register(router *mux.Router) {
	router.HandleFunc(RoutePrefix+"{id}", r.serveResource).Methods(http.MethodGet, http.MethodHead)
}

func (r *Registry) serveResource(w http.ResponseWriter, req *http.Request) {
	h, data, err := r.Open(mux.Vars(req)["id"])
	if err != nil {
		http.Error(w, "resource not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", h.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	if req.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.Filename))
	}
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

// Normalize converts the accepted raw representations into one byte slice.
func Normalize(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return decodeText(v)
	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("%w: read: %v", ErrInvalidPayload, err)
		}
		return data, nil
	case nil:
		return nil, fmt.Errorf("%w: nil content", ErrInvalidPayload)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidPayload, raw)
	}
}

// decodeText decodes base64 text, optionally wrapped in a data: URL.
func decodeText(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "data:") {
		comma := strings.IndexByte(text, ',')
		if comma < 0 || !strings.HasSuffix(text[:comma], ";base64") {
			return nil, fmt.Errorf("%w: data URL must be base64 encoded", ErrInvalidPayload)
		}
		text = text[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(text)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: not base64: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

// Filename builds a download name from the handle ID and MIME type.
func Filename(id, mimeType string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "media-" + short + extensionFor(mimeType)
}

var knownExtensions = map[string]string{
	"audio/mp3":  ".mp3",
	"audio/mpeg": ".mp3",
	"image/gif":  ".gif",
}

func extensionFor(mimeType string) string {
	if ext, ok := knownExtensions[strings.ToLower(mimeType)]; ok {
		return ext
	}
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return ".bin"
}
