package protocol

import (
	"context"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/location"
)

// Document is a raw fetched resource.
type Document struct {
	Data       []byte
	VersionTag string
	// Location is where the bytes actually came from; empty means the
	// requested location.
	Location string
}

// FetchFunc retrieves the document at an already-normalized location.
type FetchFunc func(ctx context.Context, loc string, opts calendar.LoadOptions) (Document, error)

// JoinFunc resolves an index entry's file against the index location.
type JoinFunc func(indexLocation, file string) string

// Resolver implements direct and collection loading on top of a FetchFunc.
type Resolver struct {
	fetch     FetchFunc
	normalize location.Normalizer
	join      JoinFunc
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithNormalizer replaces the default location normalization.
func WithNormalizer(n location.Normalizer) ResolverOption {
	return func(r *Resolver) {
		if n != nil {
			r.normalize = n
		}
	}
}

// WithJoin replaces the default entry-file resolution.
func WithJoin(j JoinFunc) ResolverOption {
	return func(r *Resolver) {
		if j != nil {
			r.join = j
		}
	}
}

// NewResolver builds a Resolver around fetch.
func NewResolver(fetch FetchFunc, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		fetch:     fetch,
		normalize: location.NormalizeCalendarLocation,
		join:      location.ResolveEntryFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalize applies the resolver's normalization to a location without its
// fragment.
func (r *Resolver) Normalize(loc string) string {
	base, _ := location.SplitFragment(loc)
	return r.normalize(base)
}

// Load resolves loc to a single calendar. The requested collection entry is
// the location's #fragment, or opts.CalendarID when there is none.
func (r *Resolver) Load(ctx context.Context, loc string, opts calendar.LoadOptions) (Result, error) {
	target, err := r.Locate(ctx, loc, opts)
	if err != nil {
		return Result{}, err
	}
	doc, err := r.fetch(ctx, target, opts)
	if err != nil {
		return Result{}, err
	}
	source := documentLocation(doc, target)
	cal, err := ParseCalendarDocument(doc.Data, source)
	if err != nil {
		return Result{}, err
	}
	return Result{Calendar: cal, VersionTag: doc.VersionTag, Location: source}, nil
}

// Locate returns the direct calendar file loc designates. Index locations
// are fetched and the selected entry's file is returned.
func (r *Resolver) Locate(ctx context.Context, loc string, opts calendar.LoadOptions) (string, error) {
	base, fragment := location.SplitFragment(loc)
	requested := fragment
	if requested == "" {
		requested = opts.CalendarID
	}
	target := r.normalize(base)
	if !location.IsIndexLocation(target) {
		return target, nil
	}

	doc, err := r.fetch(ctx, target, opts)
	if err != nil {
		return "", err
	}
	indexLocation := documentLocation(doc, target)
	data, err := calendar.ToJSON(doc.Data, indexLocation)
	if err != nil {
		return "", err
	}
	index, err := location.ParseIndex(data)
	if err != nil {
		return "", err
	}
	entry, err := location.SelectEntry(index, requested)
	if err != nil {
		return "", err
	}
	return r.join(indexLocation, entry.File), nil
}

// ParseCalendarDocument converts YAML by name when needed and validates the
// calendar payload.
func ParseCalendarDocument(data []byte, name string) (*calendar.Calendar, error) {
	jsonData, err := calendar.ToJSON(data, name)
	if err != nil {
		return nil, err
	}
	return calendar.ParseCalendar(jsonData)
}

func documentLocation(doc Document, requested string) string {
	if doc.Location != "" {
		return doc.Location
	}
	return requested
}
