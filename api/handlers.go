/*
handlers.go - HTTP API handlers for accident codes and lagging indicators

PURPOSE:
  Exposes the sequence allocator, the accident report flow and the lagging
  summary cache via REST. Handles HTTP request/response, JSON serialization,
  and delegates to domain logic.

ENDPOINTS:
  Lagging:
    GET    /api/lagging/summary/{year}   Summary for a year (?constant=)
    GET    /api/lagging/trend            Summaries for ?from=&to= years
    POST   /api/lagging/cache/invalidate Drop cached summaries

  Sequence:
    GET    /api/sequence                 Current counter value
    POST   /api/sequence                 Manual override
    GET    /api/sequence/preview         Next code without allocating
    GET    /api/sequence/overrides       Override audit log
    GET    /api/codes/parse              Decompose a code string

  Accidents:
    POST   /api/accidents                Submit a report (allocates codes)
    GET    /api/accidents?year=          Reports for a year

  Settings:
    GET    /api/settings/working-hours/{year}
    PUT    /api/settings/working-hours/{year}

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable code (generic.ErrorCode):
  - 400: invalid input, malformed code, invalid or exhausted sequence,
         unknown exposure constant
  - 404: resource not found
  - 503: aggregation source unavailable
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo datasets
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/lagging"
	"github.com/warp/accident-engine/logging"
	"github.com/warp/accident-engine/sequence"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the HTTP layer needs on top of the domain
// interfaces.
type Store interface {
	generic.Store
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Allocator *sequence.Allocator
	Cache     *lagging.Cache

	log            *slog.Logger
	now            generic.Clock
	refreshOnWrite bool

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithRefreshOnWrite drops a year's cached summaries after an accident
// submission or working-hours update. Off by default: summaries are
// otherwise served stale until the cache TTL passes or an explicit
// invalidation.
func WithRefreshOnWrite(on bool) HandlerOption {
	return func(h *Handler) { h.refreshOnWrite = on }
}

// WithHandlerClock sets the clock used for default dates.
func WithHandlerClock(now generic.Clock) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a handler over the given collaborators.
func NewHandler(store Store, alloc *sequence.Allocator, cache *lagging.Cache, opts ...HandlerOption) *Handler {
	h := &Handler{
		Store:     store,
		Allocator: alloc,
		Cache:     cache,
		log:       logging.Discard(),
		now:       generic.SystemClock,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// LAGGING HANDLERS
// =============================================================================

// GetSummary returns the lagging summary for a year.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear("year", chi.URLParam(r, "year"))
	if err != nil {
		h.fail(w, "Invalid year", err)
		return
	}
	constant, err := parseConstant(r.URL.Query())
	if err != nil {
		h.fail(w, "Invalid constant", err)
		return
	}

	s, err := h.Cache.Get(r.Context(), year, constant)
	if err != nil {
		h.fail(w, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetTrend returns one summary per year in [from, to].
func (h *Handler) GetTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseYear("from", q.Get("from"))
	if err != nil {
		h.fail(w, "Invalid range", err)
		return
	}
	to, err := parseYear("to", q.Get("to"))
	if err != nil {
		h.fail(w, "Invalid range", err)
		return
	}
	constant, err := parseConstant(q)
	if err != nil {
		h.fail(w, "Invalid constant", err)
		return
	}

	out, err := h.Cache.Trend(r.Context(), from, to, constant)
	if err != nil {
		h.fail(w, "Failed to build trend", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// InvalidateCache drops cached summaries for one year or for all years.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req InvalidateCacheRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}

	scope := "all"
	var err error
	if req.Year != nil {
		if _, err = parseYear("year", strconv.Itoa(*req.Year)); err != nil {
			h.fail(w, "Invalid year", err)
			return
		}
		scope = strconv.Itoa(*req.Year)
		err = h.Cache.Invalidate(r.Context(), *req.Year)
	} else {
		err = h.Cache.InvalidateAll(r.Context())
	}
	if err != nil {
		h.fail(w, "Failed to invalidate cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "invalidated": scope})
}

// =============================================================================
// SEQUENCE HANDLERS
// =============================================================================

// GetSequence returns the current stored seq for a counter key.
func (h *Handler) GetSequence(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r.URL.Query())
	if err != nil {
		h.fail(w, "Invalid counter key", err)
		return
	}

	cur, ok, err := h.Allocator.GetCurrent(r.Context(), key)
	if err != nil {
		h.fail(w, "Failed to read sequence", err)
		return
	}
	dto := SequenceDTO{Key: key.String()}
	if ok {
		dto.CurrentSeq = &cur
	}
	writeJSON(w, http.StatusOK, dto)
}

// SetSequence applies a manual override.
func (h *Handler) SetSequence(w http.ResponseWriter, r *http.Request) {
	var req SetSequenceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}
	key := generic.CounterKey{
		Scope:       generic.Scope(strings.ToLower(req.Scope)),
		CompanyCode: req.Company,
		SiteCode:    req.Site,
		Year:        req.Year,
	}
	actor := req.Actor
	if actor == "" {
		actor = r.Header.Get("X-Actor")
	}
	if actor == "" {
		actor = "api"
	}

	o, err := h.Allocator.SetManual(r.Context(), key, req.NewSeq, actor, req.Reason)
	if err != nil {
		h.fail(w, "Sequence override rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, SetSequenceResponse{CurrentSeq: o.NewSeq, Override: toOverrideDTO(o)})
}

// PreviewSequence renders the next code for a key. Site codes use ?date=
// (default today), which must fall in the key's year.
func (h *Handler) PreviewSequence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := keyFromQuery(q)
	if err != nil {
		h.fail(w, "Invalid counter key", err)
		return
	}
	date := generic.Day(h.now())
	if s := q.Get("date"); s != "" {
		if date, err = parseDate(s); err != nil {
			h.fail(w, "Invalid date", err)
			return
		}
	} else if date.Year() != key.Year {
		date = generic.StartOfYear(key.Year)
	}
	if key.Scope == generic.ScopeSite && date.Year() != key.Year {
		h.fail(w, "Invalid date", &generic.InputError{Field: "date", Reason: fmt.Sprintf("must fall in %d", key.Year)})
		return
	}

	p, err := h.Allocator.Preview(r.Context(), key, date)
	if err != nil {
		h.fail(w, "Failed to preview sequence", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewDTO{Key: p.Key.String(), NextSeq: p.NextSeq, Code: p.Code})
}

// ListOverrides returns the audit log for a counter key.
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r.URL.Query())
	if err != nil {
		h.fail(w, "Invalid counter key", err)
		return
	}
	list, err := h.Allocator.Overrides(r.Context(), key)
	if err != nil {
		h.fail(w, "Failed to list overrides", err)
		return
	}
	dtos := make([]OverrideDTO, len(list))
	for i, o := range list {
		dtos[i] = toOverrideDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ParseCode decomposes a global or site code. Without ?kind= the format is
// picked by segment count.
func (h *Handler) ParseCode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		h.fail(w, "Missing code", &generic.InputError{Field: "code", Reason: "required"})
		return
	}
	kind := generic.CodeKind(strings.ToLower(q.Get("kind")))
	if kind == "" {
		kind = generic.KindSite
		if strings.Count(code, "-") == 2 {
			kind = generic.KindGlobal
		}
	}

	switch kind {
	case generic.KindGlobal:
		c, err := sequence.ParseGlobal(code)
		if err != nil {
			h.fail(w, "Malformed code", err)
			return
		}
		writeJSON(w, http.StatusOK, ParsedCodeDTO{
			Kind: string(kind), Code: c.String(), Company: c.Company,
			Year: c.Year, Seq: c.Seq, Key: c.Key().String(),
		})
	case generic.KindSite:
		c, err := sequence.ParseSite(code)
		if err != nil {
			h.fail(w, "Malformed code", err)
			return
		}
		writeJSON(w, http.StatusOK, ParsedCodeDTO{
			Kind: string(kind), Code: c.String(), Company: c.Company, Site: c.Site,
			Year: c.Date.Year(), Seq: c.Seq, Date: c.Date.Format("2006-01-02"), Key: c.Key().String(),
		})
	default:
		h.fail(w, "Invalid kind", &generic.InputError{Field: "kind", Reason: "must be global or site"})
	}
}

// =============================================================================
// ACCIDENT HANDLERS
// =============================================================================

// CreateAccident allocates codes for a report and stores it.
func (h *Handler) CreateAccident(w http.ResponseWriter, r *http.Request) {
	var req CreateAccidentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}

	rec, err := h.reportAccident(r.Context(), req)
	if err != nil {
		h.fail(w, "Failed to submit accident", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccidentDTO(rec))
}

// ListAccidents returns the reports for ?year=.
func (h *Handler) ListAccidents(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear("year", r.URL.Query().Get("year"))
	if err != nil {
		h.fail(w, "Invalid year", err)
		return
	}
	recs, err := h.Store.ListAccidents(r.Context(), year)
	if err != nil {
		h.fail(w, "Failed to list accidents", err)
		return
	}
	dtos := make([]AccidentDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toAccidentDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// reportAccident validates req, issues both codes and persists the record.
// Codes issued before a failed save stay consumed.
func (h *Handler) reportAccident(ctx context.Context, req CreateAccidentRequest) (generic.AccidentRecord, error) {
	occurred, err := parseTimestamp(req.OccurredAt)
	if err != nil {
		return generic.AccidentRecord{}, err
	}
	if req.DirectDamageCost < 0 {
		return generic.AccidentRecord{}, &generic.InputError{Field: "direct_damage_cost", Reason: "must not be negative"}
	}
	if err := sequence.ValidateSegment("company_code", req.CompanyCode); err != nil {
		return generic.AccidentRecord{}, err
	}
	if err := sequence.ValidateSegment("site_code", req.SiteCode); err != nil {
		return generic.AccidentRecord{}, err
	}

	victims := make([]generic.VictimRecord, len(req.Victims))
	for i, v := range req.Victims {
		field := fmt.Sprintf("victims[%d]", i)
		if v.LossDays < 0 {
			return generic.AccidentRecord{}, &generic.InputError{Field: field + ".loss_days", Reason: "must not be negative"}
		}
		et := generic.EmployeeType(strings.ToLower(v.EmployeeType))
		switch et {
		case "":
			et = generic.EmployeeDirect
		case generic.EmployeeDirect, generic.EmployeeContractor:
		default:
			return generic.AccidentRecord{}, &generic.InputError{Field: field + ".employee_type", Reason: fmt.Sprintf("unknown type %q", v.EmployeeType)}
		}
		victims[i] = generic.VictimRecord{
			InjuryLabel:    v.InjuryLabel,
			InjuryCategory: lagging.Classify(v.InjuryLabel),
			LossDays:       v.LossDays,
			EmployeeType:   et,
		}
	}

	codes, err := h.Allocator.Issue(ctx, req.CompanyCode, req.SiteCode, occurred)
	if err != nil {
		return generic.AccidentRecord{}, err
	}
	rec := generic.AccidentRecord{
		ID:               codes.AccidentID,
		GlobalID:         codes.GlobalAccidentNo,
		CompanyCode:      req.CompanyCode,
		SiteCode:         req.SiteCode,
		Year:             generic.Day(occurred).Year(),
		IsContractor:     req.IsContractor,
		OccurredAt:       occurred,
		DirectDamageCost: req.DirectDamageCost,
		Victims:          victims,
	}
	if err := h.Store.SaveAccident(ctx, rec); err != nil {
		h.log.Warn("issued codes not persisted", "accident_id", rec.ID, "global_id", rec.GlobalID, "error", err)
		return generic.AccidentRecord{}, fmt.Errorf("save accident %s: %w", rec.ID, err)
	}
	h.invalidateOnWrite(ctx, rec.Year)
	return rec, nil
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetWorkingHours returns the configured exposure for a year.
func (h *Handler) GetWorkingHours(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear("year", chi.URLParam(r, "year"))
	if err != nil {
		h.fail(w, "Invalid year", err)
		return
	}
	hours, ok, err := h.Store.WorkingHours(r.Context(), year)
	if err != nil {
		h.fail(w, "Failed to read working hours", err)
		return
	}
	if !ok {
		h.fail(w, "Working hours not configured", fmt.Errorf("working hours for %d: %w", year, generic.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, toWorkingHoursDTO(hours))
}

// PutWorkingHours stores the exposure for a year.
func (h *Handler) PutWorkingHours(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear("year", chi.URLParam(r, "year"))
	if err != nil {
		h.fail(w, "Invalid year", err)
		return
	}
	var req WorkingHoursDTO
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}
	if req.Year != 0 && req.Year != year {
		h.fail(w, "Invalid year", &generic.InputError{Field: "year", Reason: "body year does not match path"})
		return
	}
	if req.Total < 0 || req.Employee < 0 || req.Contractor < 0 {
		h.fail(w, "Invalid working hours", &generic.InputError{Field: "working_hours", Reason: "must not be negative"})
		return
	}

	hours := generic.WorkingHours{Year: year, Total: req.Total, Employee: req.Employee, Contractor: req.Contractor}
	if err := h.Store.SaveWorkingHours(r.Context(), hours); err != nil {
		h.fail(w, "Failed to save working hours", err)
		return
	}
	h.invalidateOnWrite(r.Context(), year)
	writeJSON(w, http.StatusOK, toWorkingHoursDTO(hours))
}

// Healthz reports whether the store is reachable.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Code = generic.ErrorCode(err)
		resp.Details = errorDetails(err)
	}
	writeJSON(w, status, resp)
}

// fail maps err to a status and writes it. Server-side failures are logged.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(message, "error", err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrAggregationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorDetails exposes the structured fields of known errors.
func errorDetails(err error) any {
	var (
		invalid   *generic.InvalidSequenceError
		exhausted *generic.SequenceExhaustedError
		malformed *generic.MalformedCodeError
		constant  *generic.InvalidConstantError
		input     *generic.InputError
	)
	switch {
	case errors.As(err, &invalid):
		return map[string]any{
			"key": invalid.Key.String(), "requested": invalid.Requested,
			"min": invalid.Min, "max": invalid.Max, "reason": invalid.Reason,
		}
	case errors.As(err, &exhausted):
		return map[string]any{"key": exhausted.Key.String(), "max": exhausted.Max}
	case errors.As(err, &malformed):
		return map[string]any{"code": malformed.Code, "kind": malformed.Kind, "reason": malformed.Reason}
	case errors.As(err, &constant):
		return map[string]any{"constant": constant.Constant, "allowed": constant.Allowed}
	case errors.As(err, &input):
		return map[string]any{"field": input.Field, "reason": input.Reason}
	default:
		return err.Error()
	}
}

// decodeJSON decodes a request body, rejecting unknown fields. optional
// accepts an empty body.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return &generic.InputError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (h *Handler) invalidateOnWrite(ctx context.Context, year int) {
	if !h.refreshOnWrite {
		return
	}
	if err := h.Cache.Invalidate(ctx, year); err != nil {
		h.log.Warn("cache invalidation failed", "year", year, "error", err)
	}
}

func parseYear(field, s string) (int, error) {
	if s == "" {
		return 0, &generic.InputError{Field: field, Reason: "required"}
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < 1000 || y > 9999 {
		return 0, &generic.InputError{Field: field, Reason: "must be a four-digit year"}
	}
	return y, nil
}

// parseConstant reads ?constant=. Absent means the configured default.
func parseConstant(q url.Values) (int64, error) {
	s := q.Get("constant")
	if s == "" {
		return 0, nil
	}
	c, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &generic.InputError{Field: "constant", Reason: "must be an integer"}
	}
	if c <= 0 {
		return 0, &generic.InvalidConstantError{Constant: c}
	}
	return c, nil
}

func keyFromQuery(q url.Values) (generic.CounterKey, error) {
	year, err := parseYear("year", q.Get("year"))
	if err != nil {
		return generic.CounterKey{}, err
	}
	key := generic.CounterKey{
		Scope:       generic.Scope(strings.ToLower(q.Get("scope"))),
		CompanyCode: q.Get("company"),
		SiteCode:    q.Get("site"),
		Year:        year,
	}
	if err := sequence.ValidateKey(key); err != nil {
		return generic.CounterKey{}, err
	}
	return key, nil
}

// parseDate accepts YYYY-MM-DD or the compact YYYYMMDD form used in codes.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", generic.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &generic.InputError{Field: "date", Reason: "expected YYYY-MM-DD"}
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, &generic.InputError{Field: "occurred_at", Reason: "required"}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, &generic.InputError{Field: "occurred_at", Reason: "expected YYYY-MM-DD or RFC3339"}
}
