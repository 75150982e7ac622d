package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/state"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/pkg/idmap"
	"github.com/marmos91/nfscore/pkg/metadata"
)

// Handlers serves the admin endpoints. Any dependency may be nil; its
// routes then answer 503.
type Handlers struct {
	Idmap    *idmap.Cache
	Sessions *state.Manager
	Metadata metadata.Store
	Registry *attrs.Registry

	// ReloadIdmap re-reads identity mapping settings and applies them. When
	// nil, the reload endpoint flushes the cache with its current settings.
	ReloadIdmap func(r *http.Request) error

	startTime time.Time
}

// Liveness handles GET /health.
func (h *Handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, okResponse(map[string]interface{}{
		"service":    "nfscore",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// Readiness handles GET /health/ready. It fails while the metadata store
// does not answer its healthcheck.
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.Metadata != nil {
		if err := h.Metadata.Healthcheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, Response{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC(),
				Error:     err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

// IdmapStats handles GET /api/v1/idmap/stats.
func (h *Handlers) IdmapStats(w http.ResponseWriter, r *http.Request) {
	if h.Idmap == nil {
		ServiceUnavailable(w, "identity mapping is not configured")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.Idmap.Stats()))
}

func parseKind(s string) (idmap.Kind, bool) {
	switch s {
	case "user", "":
		return idmap.KindUser, true
	case "group":
		return idmap.KindGroup, true
	}
	return 0, false
}

// lookupResult is the answer of the lookup endpoint.
type lookupResult struct {
	Kind string `json:"kind"`
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// IdmapLookup handles GET /api/v1/idmap/lookup?kind=user&id=N or
// ?kind=group&name=S. The lookup goes through the cache, upcall included.
func (h *Handlers) IdmapLookup(w http.ResponseWriter, r *http.Request) {
	if h.Idmap == nil {
		ServiceUnavailable(w, "identity mapping is not configured")
		return
	}
	q := r.URL.Query()
	kind, ok := parseKind(q.Get("kind"))
	if !ok {
		BadRequest(w, "kind must be user or group")
		return
	}
	ctx := r.Context()

	if raw := q.Get("id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			BadRequest(w, "id must be a 32-bit unsigned integer")
			return
		}
		res := lookupResult{Kind: kind.String(), ID: uint32(id)}
		if kind == idmap.KindGroup {
			res.Name = h.Idmap.GIDToString(ctx, res.ID)
		} else {
			res.Name = h.Idmap.UIDToString(ctx, res.ID)
		}
		writeJSON(w, http.StatusOK, okResponse(res))
		return
	}

	name := q.Get("name")
	if name == "" {
		BadRequest(w, "one of id or name is required")
		return
	}
	var (
		id  uint32
		err error
	)
	if kind == idmap.KindGroup {
		id, err = h.Idmap.StringToGID(ctx, name)
	} else {
		id, err = h.Idmap.StringToUID(ctx, name)
	}
	switch {
	case errors.Is(err, types.ErrBadOwner):
		NotFound(w, err.Error())
	case errors.Is(err, types.ErrInval):
		BadRequest(w, err.Error())
	case err != nil:
		InternalServerError(w, err.Error())
	default:
		writeJSON(w, http.StatusOK, okResponse(lookupResult{Kind: kind.String(), ID: id, Name: name}))
	}
}

// IdmapEntries handles GET /api/v1/idmap/entries?kind=user.
func (h *Handlers) IdmapEntries(w http.ResponseWriter, r *http.Request) {
	if h.Idmap == nil {
		ServiceUnavailable(w, "identity mapping is not configured")
		return
	}
	kind, ok := parseKind(r.URL.Query().Get("kind"))
	if !ok {
		BadRequest(w, "kind must be user or group")
		return
	}
	entries, err := h.Idmap.Snapshot(r.Context(), kind)
	if err != nil {
		InternalServerError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, okResponse(entries))
}

// AddEntryRequest is the body of POST /api/v1/idmap/entries.
type AddEntryRequest struct {
	Kind   string   `json:"kind"`
	ID     uint32   `json:"id"`
	Name   string   `json:"name"`
	Groups []uint32 `json:"groups,omitempty"`
	// TTL is a Go duration string; empty uses the cache default.
	TTL string `json:"ttl,omitempty"`
}

// IdmapAdd handles POST /api/v1/idmap/entries.
func (h *Handlers) IdmapAdd(w http.ResponseWriter, r *http.Request) {
	if h.Idmap == nil {
		ServiceUnavailable(w, "identity mapping is not configured")
		return
	}
	var req AddEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		BadRequest(w, "kind must be user or group")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			BadRequest(w, "ttl must be a non-negative duration")
			return
		}
		ttl = d
	}
	if err := h.Idmap.Add(r.Context(), kind, req.ID, req.Name, req.Groups, ttl); err != nil {
		BadRequest(w, err.Error())
		return
	}
	logger.InfoCtx(r.Context(), "idmap entry added", "kind", kind.String(), "id", req.ID, "name", req.Name)
	writeJSON(w, http.StatusCreated, okResponse(lookupResult{Kind: kind.String(), ID: req.ID, Name: req.Name}))
}

// IdmapDelete handles DELETE /api/v1/idmap/entries/{kind}/{id}.
func (h *Handlers) IdmapDelete(w http.ResponseWriter, r *http.Request) {
	if h.Idmap == nil {
		ServiceUnavailable(w, "identity mapping is not configured")
		return
	}
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		BadRequest(w, "kind must be user or group")
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		BadRequest(w, "id must be a 32-bit unsigned integer")
		return
	}
	found, err := h.Idmap.DeleteID(r.Context(), kind, uint32(id))
	if err != nil {
		InternalServerError(w, err.Error())
		return
	}
	if !found {
		NotFound(w, "no cached entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IdmapReload handles POST /api/v1/idmap/reload.
func (h *Handlers) IdmapReload(w http.ResponseWriter, r *http.Request) {
	if h.Idmap == nil {
		ServiceUnavailable(w, "identity mapping is not configured")
		return
	}
	var err error
	if h.ReloadIdmap != nil {
		err = h.ReloadIdmap(r)
	} else {
		err = h.Idmap.Flush(r.Context())
	}
	if err != nil {
		InternalServerError(w, err.Error())
		return
	}
	logger.InfoCtx(r.Context(), "idmap reloaded via admin API")
	writeJSON(w, http.StatusOK, okResponse(h.Idmap.Stats()))
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		ServiceUnavailable(w, "session table is not configured")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.Sessions.ListSessions()))
}

// DestroySession handles DELETE /api/v1/sessions/{id}. With ?force=true
// the session is removed even while requests are in flight.
func (h *Handlers) DestroySession(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		ServiceUnavailable(w, "session table is not configured")
		return
	}
	id, err := types.ParseSessionId4(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if r.URL.Query().Get("force") == "true" {
		err = h.Sessions.ForceDestroySession(id)
	} else {
		err = h.Sessions.DestroySession(id)
	}
	switch {
	case errors.Is(err, types.ErrBadSession):
		NotFound(w, err.Error())
	case errors.Is(err, types.ErrDelay):
		Conflict(w, err.Error())
	case err != nil:
		InternalServerError(w, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// descriptorInfo is the JSON form of an attribute descriptor.
type descriptorInfo struct {
	ID     uint32 `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Access string `json:"access"`
}

// ListAttributes handles GET /api/v1/attributes.
func (h *Handlers) ListAttributes(w http.ResponseWriter, r *http.Request) {
	all := h.registry().All()
	out := make([]descriptorInfo, 0, len(all))
	for _, d := range all {
		out = append(out, descriptorInfo{ID: uint32(d.ID), Name: d.Name, Kind: d.Kind.String(), Access: d.Access.String()})
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

func (h *Handlers) registry() *attrs.Registry {
	if h.Registry != nil {
		return h.Registry
	}
	return attrs.DefaultRegistry()
}

// ListObjects handles GET /api/v1/objects.
func (h *Handlers) ListObjects(w http.ResponseWriter, r *http.Request) {
	if h.Metadata == nil {
		ServiceUnavailable(w, "metadata store is not configured")
		return
	}
	handles, err := h.Metadata.Handles(r.Context())
	if err != nil {
		InternalServerError(w, err.Error())
		return
	}
	out := make([]string, len(handles))
	for i, hd := range handles {
		out[i] = hd.String()
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// GetObject handles GET /api/v1/objects/{handle}. The body maps attribute
// names to every readable value the object provides.
func (h *Handlers) GetObject(w http.ResponseWriter, r *http.Request) {
	if h.Metadata == nil {
		ServiceUnavailable(w, "metadata store is not configured")
		return
	}
	handle, err := metadata.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	src := metadata.NewObjectSource(h.Metadata, handle)
	values := make(map[string]attrs.Value)
	for _, d := range h.registry().All() {
		if d.Access == attrs.WriteOnly {
			continue
		}
		v, err := src.Attribute(r.Context(), d.ID)
		switch {
		case errors.Is(err, metadata.ErrStaleHandle):
			NotFound(w, err.Error())
			return
		case errors.Is(err, types.ErrAttrNotSupp):
			continue
		case err != nil:
			InternalServerError(w, err.Error())
			return
		}
		values[d.Name] = v
	}
	writeJSON(w, http.StatusOK, okResponse(values))
}
