package adapter

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"
)

// Sentinel errors shared by adapters.
var (
	// ErrUnknownSource is returned when no adapter is registered for a source tag.
	ErrUnknownSource = errors.New("unknown source")

	// ErrMissingConfig is returned when a job config lacks a required field.
	// Caller-visible and never retried.
	ErrMissingConfig = errors.New("missing required config field")

	// ErrInvalidConfig is returned when a job config field has an invalid value.
	// Caller-visible and never retried.
	ErrInvalidConfig = errors.New("invalid config field")

	// ErrUnparseablePayload is returned when an entire response payload cannot
	// be parsed. Individual malformed records are skipped with a warning
	// instead; this error means the payload as a whole is unusable.
	ErrUnparseablePayload = errors.New("unparseable payload")
)

type (
	// Config is the opaque key/value map describing what a job fetches.
	Config map[string]string

	// Step is one concrete HTTP fetch within a plan.
	Step struct {
		URL     string
		Method  string
		Query   url.Values
		Headers map[string]string
		// Body is the request payload for sources that take POST queries.
		Body []byte
		// Page is the 1-based page/offset position for paginated sources.
		Page int
		// Cursor carries an opaque pagination cursor when the source uses one.
		Cursor string
	}

	// PageInfo feeds pagination state back into a Planner after each step is
	// fetched and parsed.
	PageInfo struct {
		Step Step
		// Rows is the number of rows parsed from the step's payload.
		Rows int
		// Records is the number of raw records the payload carried, before
		// per-record skips. Zero means the source did not report it; Count
		// falls back to Rows.
		Records int
		// HasMore is the source's explicit continuation flag, when it has one.
		HasMore *bool
		// Total is the source's reported total record count, when it has one.
		Total *int
		// Cursor is the next-page cursor extracted from the payload, if any.
		Cursor string
	}

	// Planner produces the lazy sequence of fetch steps for a job. Next returns
	// (nil, nil) when the plan is exhausted. The first call receives last=nil;
	// subsequent calls receive the PageInfo of the previous step so paginated
	// planners can decide whether to continue.
	Planner interface {
		Next(last *PageInfo) (*Step, error)
	}

	// FetchDefaults are the per-source fetch policy knobs the fetcher honors.
	FetchDefaults struct {
		MaxConcurrency int
		MaxRetries     int
		RateInterval   time.Duration
		Timeout        time.Duration
	}

	// Adapter encodes one external source: schema declaration, fetch planning,
	// and payload parsing. Schema and Plan are pure functions of the config;
	// Parse is a pure function of (step, payload).
	Adapter interface {
		// Name returns the source tag this adapter serves.
		Name() string

		// Defaults returns the fetch policy for this source.
		Defaults() FetchDefaults

		// Schema declares the target table for the given config.
		// Deterministic: identical configs yield byte-identical specs.
		Schema(cfg Config) (*Spec, error)

		// Plan returns the lazy sequence of fetch steps for the config.
		Plan(cfg Config) (Planner, error)

		// Parse maps a raw response payload into rows conforming to the
		// declared schema. Malformed individual records are skipped; a wholly
		// unparseable payload returns ErrUnparseablePayload.
		Parse(step *Step, payload []byte) ([]Row, error)
	}
)

// Require returns the named config value or ErrMissingConfig.
func (c Config) Require(key string) (string, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingConfig, key)
	}

	return v, nil
}

// Get returns the named config value or a default when absent.
func (c Config) Get(key, defaultValue string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}

	return defaultValue
}

// RequireOrEnv returns the named config value, falling back to the given
// environment variable. Per-source API keys usually arrive through the
// environment rather than the job config.
func (c Config) RequireOrEnv(key, envVar string) (string, error) {
	if v, ok := c[key]; ok && v != "" {
		return v, nil
	}

	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	return "", fmt.Errorf("%w: %q (or env %s)", ErrMissingConfig, key, envVar)
}

// GetOrEnv returns the named config value, falling back to the given
// environment variable, then empty. For sources where a key is optional.
func (c Config) GetOrEnv(key, envVar string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}

	return os.Getenv(envVar)
}

type (
	// steps is a Planner over a fixed, precomputed list of steps.
	steps struct {
		remaining []Step
	}

	// pageFunc adapts a pagination function into a Planner.
	pageFunc func(last *PageInfo) (*Step, error)
)

// Steps returns a Planner that yields the given steps in order.
// Used by adapters whose plans are fully known up front.
func Steps(list ...Step) Planner {
	return &steps{remaining: list}
}

func (p *steps) Next(_ *PageInfo) (*Step, error) {
	if len(p.remaining) == 0 {
		return nil, nil
	}

	step := p.remaining[0]
	p.remaining = p.remaining[1:]

	return &step, nil
}

// PlanFunc adapts a function into a Planner.
func PlanFunc(fn func(last *PageInfo) (*Step, error)) Planner {
	return pageFunc(fn)
}

func (f pageFunc) Next(last *PageInfo) (*Step, error) {
	return f(last)
}

// Count returns the raw record count when the source reported one, falling
// back to the parsed row count. Offset planners advance by this so a
// record skipped during Parse does not shift later pages.
func (p *PageInfo) Count() int {
	if p == nil {
		return 0
	}

	if p.Records > 0 {
		return p.Records
	}

	return p.Rows
}

// Exhausted implements the standard pagination termination rules shared by
// offset- and page-based planners: stop on an empty page, a short page, an
// explicit has_more=false, or when the reported total has been reached.
// Page fill is judged on the raw record count, so a page full of skipped
// records still continues the plan.
func Exhausted(last *PageInfo, pageSize, fetched int) bool {
	if last == nil {
		return false
	}

	if count := last.Count(); count == 0 || count < pageSize {
		return true
	}

	if last.HasMore != nil && !*last.HasMore {
		return true
	}

	if last.Total != nil && fetched >= *last.Total {
		return true
	}

	return false
}

// Registry maps source tags to adapters. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its source name, replacing any previous
// registration for the same name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[a.Name()] = a
}

// Lookup returns the adapter for a source tag.
func (r *Registry) Lookup(source string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	return a, nil
}

// Sources returns the registered source tags in sorted order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
