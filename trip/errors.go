// Package trip provides the error taxonomy of camera rig evaluation.
//
// Blend stacks never abort a frame. When something goes wrong they "trip":
// the problem is recorded, logged once, and the stack recovers locally.
//
//   - A Stumble is transient: a context's snapshot is momentarily invalid, the
//     entry is skipped for the frame and picks up again when it recovers.
//   - An Error is permanent but contained: a context was destroyed and its
//     entry is frozen.
//   - A Fall is a broken contract: a bad pop index or a serialized entry count
//     that does not match. Falls panic in debug configurations.
//
// Example usage:
//
//	t := trip.NewStumble(trip.TypeContext, "snapshot invalid, skipping entry",
//	    trip.Context{"entry_id": 3, "context": "player"})
//
//	if t.CanRecover() {
//	    // keep running on last frame's data
//	}
package trip

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Trip types raised by the evaluation core.
const (
	TypeContext  = "context"  // evaluation context problems
	TypeContract = "contract" // caller broke an API contract
	TypeArchive  = "archive"  // save state could not be applied
	TypeReload   = "reload"   // rig rebuild problems
)

// Trip is one recorded evaluation problem with its context.
type Trip struct {
	Type      string    // Error category for systematic handling
	Message   string    // Human-readable description
	Context   Context   // Additional debugging information
	Timestamp time.Time // When the trip was recorded
	Frame     uint64    // Evaluation frame, 0 when unknown
	Severity  Severity  // How serious this trip is
	Cause     error     // Underlying error, if any
}

// Context provides structured debugging information for trips.
type Context map[string]any

// Severity indicates how serious a trip is and how it should be handled.
type Severity int

const (
	// Stumble is a transient issue; the affected entry skips a frame.
	Stumble Severity = iota

	// Error is a contained issue; the affected entry is frozen.
	Error

	// Fall is a programmer error.
	Fall
)

func (s Severity) String() string {
	switch s {
	case Stumble:
		return "stumble"
	case Error:
		return "error"
	case Fall:
		return "fall"
	default:
		return "unknown"
	}
}

// Level maps a severity onto a log level.
func (s Severity) Level() slog.Level {
	switch s {
	case Stumble, Error:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func newTrip(errorType, message string, context Context, severity Severity) *Trip {
	return &Trip{
		Type:      errorType,
		Message:   message,
		Context:   context,
		Timestamp: time.Now(),
		Severity:  severity,
	}
}

// NewTrip creates a new trip with Error severity.
func NewTrip(errorType, message string, context Context) *Trip {
	return newTrip(errorType, message, context, Error)
}

// NewStumble creates a new trip with Stumble severity.
func NewStumble(errorType, message string, context Context) *Trip {
	return newTrip(errorType, message, context, Stumble)
}

// NewFall creates a new trip with Fall severity.
func NewFall(errorType, message string, context Context) *Trip {
	return newTrip(errorType, message, context, Fall)
}

// WithFrame stamps the evaluation frame the trip happened on.
func (t *Trip) WithFrame(frame uint64) *Trip {
	t.Frame = frame
	return t
}

// WithSeverity sets the severity level for this trip.
func (t *Trip) WithSeverity(severity Severity) *Trip {
	t.Severity = severity
	return t
}

// WithCause attaches the underlying error.
func (t *Trip) WithCause(err error) *Trip {
	t.Cause = err
	return t
}

// Error implements the error interface.
func (t *Trip) Error() string {
	if t.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", t.Type, t.Severity, t.Message, t.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", t.Type, t.Severity, t.Message)
}

func (t *Trip) Unwrap() error { return t.Cause }

// CanRecover returns true if the affected entry picks up again on its own.
func (t *Trip) CanRecover() bool {
	return t.Severity == Stumble
}

// IsFall returns true for programmer errors.
func (t *Trip) IsFall() bool {
	return t.Severity == Fall
}

// GetContext returns a specific context value if it exists.
func (t *Trip) GetContext(key string) (any, bool) {
	if t.Context == nil {
		return nil, false
	}
	val, exists := t.Context[key]
	return val, exists
}

// LogValue renders the trip as a slog group with sorted context keys.
func (t *Trip) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", t.Type),
		slog.String("severity", t.Severity.String()),
		slog.String("message", t.Message),
	}
	if t.Frame > 0 {
		attrs = append(attrs, slog.Uint64("frame", t.Frame))
	}
	for _, key := range t.sortedKeys() {
		attrs = append(attrs, slog.Any(key, t.Context[key]))
	}
	if t.Cause != nil {
		attrs = append(attrs, slog.String("cause", t.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

func (t *Trip) sortedKeys() []string {
	keys := make([]string, 0, len(t.Context))
	for key := range t.Context {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// DetailedString returns a comprehensive description with context.
func (t *Trip) DetailedString() string {
	var details strings.Builder

	details.WriteString(t.Error())
	details.WriteString(fmt.Sprintf("\n  Time: %s", t.Timestamp.Format("15:04:05.000")))

	if t.Frame > 0 {
		details.WriteString(fmt.Sprintf("\n  Frame: %d", t.Frame))
	}

	if len(t.Context) > 0 {
		details.WriteString("\n  Context:")
		for _, key := range t.sortedKeys() {
			details.WriteString(fmt.Sprintf("\n    %s: %v", key, t.Context[key]))
		}
	}

	return details.String()
}

// Handler collects the trips of one component.
//
// Evaluation runs every frame for the whole session, so a handler keeps at
// most Policy.MaxRecorded trips of each kind, dropping the oldest.
type Handler struct {
	component string  // Component name (e.g., "root", "persistent", "transient")
	trips     []*Trip // Errors and falls in chronological order
	stumbles  []*Trip // Stumbles in chronological order
	dropped   int     // Trips evicted by the MaxRecorded bound
	policy    *Policy // How to handle different trip types
}

// Policy defines how trips are handled.
type Policy struct {
	// PanicOnFall makes Record panic on falls (debug builds).
	PanicOnFall bool

	// MaxStumbles sets a limit on accumulated stumbles before the component
	// is considered unhealthy. 0 disables the limit.
	MaxStumbles int

	// MaxRecorded bounds how many trips of each kind are kept.
	MaxRecorded int

	// RecoverableTypes lists trip types that are considered recoverable.
	RecoverableTypes []string
}

// DefaultPolicy returns the release policy: falls are recorded, never raised.
func DefaultPolicy() *Policy {
	return &Policy{
		PanicOnFall:      false,
		MaxStumbles:      0,
		MaxRecorded:      256,
		RecoverableTypes: []string{TypeContext, TypeReload},
	}
}

// DebugPolicy is DefaultPolicy with falls raised as panics.
func DebugPolicy() *Policy {
	p := DefaultPolicy()
	p.PanicOnFall = true
	return p
}

// NewHandler creates a new trip handler for a specific component.
func NewHandler(component string, policy *Policy) *Handler {
	if policy == nil {
		policy = DefaultPolicy()
	}

	return &Handler{
		component: component,
		trips:     make([]*Trip, 0),
		stumbles:  make([]*Trip, 0),
		policy:    policy,
	}
}

// Component returns the handler's component name.
func (h *Handler) Component() string { return h.component }

// Record adds a trip to the handler's collection. Under a panicking policy a
// fall is recorded and then raised.
func (h *Handler) Record(trip *Trip) {
	if trip.Severity == Stumble {
		h.stumbles = h.push(h.stumbles, trip)
	} else {
		h.trips = h.push(h.trips, trip)
	}
	if trip.IsFall() && h.policy.PanicOnFall {
		panic(trip)
	}
}

func (h *Handler) push(list []*Trip, trip *Trip) []*Trip {
	if limit := h.policy.MaxRecorded; limit > 0 && len(list) >= limit {
		list[0] = nil
		list = list[1:]
		h.dropped++
	}
	return append(list, trip)
}

// ShouldContinue reports whether the component is still healthy.
func (h *Handler) ShouldContinue() bool {
	for _, trip := range h.trips {
		if trip.IsFall() {
			return false
		}
	}

	if h.policy.MaxStumbles > 0 && len(h.stumbles) > h.policy.MaxStumbles {
		return false
	}

	return true
}

// HasTrips returns true if any errors or falls have been recorded.
func (h *Handler) HasTrips() bool {
	return len(h.trips) > 0
}

// HasStumbles returns true if any stumbles have been recorded.
func (h *Handler) HasStumbles() bool {
	return len(h.stumbles) > 0
}

// GetTrips returns all recorded errors and falls.
func (h *Handler) GetTrips() []*Trip {
	return h.trips
}

// GetStumbles returns all recorded stumbles.
func (h *Handler) GetStumbles() []*Trip {
	return h.stumbles
}

// Dropped is the number of trips evicted to honour MaxRecorded.
func (h *Handler) Dropped() int { return h.dropped }

// CanRecover returns true if the given trip type is considered recoverable.
func (h *Handler) CanRecover(errorType string) bool {
	return slices.Contains(h.policy.RecoverableTypes, errorType)
}

// Reset forgets every recorded trip.
func (h *Handler) Reset() {
	clear(h.trips)
	clear(h.stumbles)
	h.trips = h.trips[:0]
	h.stumbles = h.stumbles[:0]
	h.dropped = 0
}

// Summary provides a concise overview of all trips and stumbles.
func (h *Handler) Summary() string {
	if len(h.trips) == 0 && len(h.stumbles) == 0 {
		return fmt.Sprintf("[%s] No issues during evaluation", h.component)
	}

	return fmt.Sprintf("[%s] %d trips, %d stumbles",
		h.component, len(h.trips), len(h.stumbles))
}

// DetailedReport provides a comprehensive report of all issues.
func (h *Handler) DetailedReport() string {
	var report strings.Builder

	report.WriteString(fmt.Sprintf("=== %s Component Report ===\n", h.component))
	report.WriteString(h.Summary() + "\n")

	if h.dropped > 0 {
		report.WriteString(fmt.Sprintf("(%d older trips dropped)\n", h.dropped))
	}

	if len(h.trips) > 0 {
		report.WriteString("\nTrips:\n")
		for i, trip := range h.trips {
			report.WriteString(fmt.Sprintf("%d. %s\n", i+1, trip.DetailedString()))
		}
	}

	if len(h.stumbles) > 0 {
		report.WriteString("\nStumbles:\n")
		for i, stumble := range h.stumbles {
			report.WriteString(fmt.Sprintf("%d. %s\n", i+1, stumble.DetailedString()))
		}
	}

	return report.String()
}
