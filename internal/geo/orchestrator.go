package geo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rahulxs/geo-dashboard/internal/cache"
)

// Orchestrator is the entry point of the request layer. It normalizes raw
// queries, resolves them against the cache store, fans out to provider
// clients on misses, and merges the outcomes into a CompositeAnswer.
type Orchestrator struct {
	store     *cache.Store
	providers Providers
	precision int
	observer  Observer
}

// Observer receives the outcome of every real upstream fetch. Cache hits are
// not reported here; the cache store has its own hooks.
type Observer interface {
	ObserveProvider(provider string, start time.Time, failureKind string)
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithObserver attaches fetch instrumentation.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// NewOrchestrator wires the orchestrator. precision is the coordinate
// rounding precision in decimal places; <= 0 uses DefaultPrecision.
func NewOrchestrator(store *cache.Store, providers Providers, precision int, opts ...Option) *Orchestrator {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	o := &Orchestrator{store: store, providers: providers, precision: precision}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Normalize exposes the key builder with the orchestrator's precision.
func (o *Orchestrator) Normalize(raw RawQuery) (Query, error) {
	return Normalize(raw, o.precision)
}

// Resolve answers a raw query. It returns ErrValidation for bad input,
// ErrAllProvidersFailed when the query's whole minimum-required provider set
// failed, and ErrDeadlineExceeded when ctx ran out before that set resolved.
// Optional providers failing only marks the answer partial.
func (o *Orchestrator) Resolve(ctx context.Context, raw RawQuery) (CompositeAnswer, error) {
	q, err := Normalize(raw, o.precision)
	if err != nil {
		return CompositeAnswer{}, err
	}

	ans := CompositeAnswer{Query: q, Results: make(map[string]ProviderResult)}

	switch q.Kind {
	case KindAddressLookup, KindReverseLookup, KindSuggest:
		res := o.call(ctx, o.providers.Geocoder, ProviderGeocoder, q)
		ans.Results[res.Provider] = res
		return finishRequired(ans, res)

	case KindWeatherAt:
		res := o.call(ctx, o.providers.Weather, ProviderWeather, q)
		ans.Results[res.Provider] = res
		return finishRequired(ans, res)

	case KindAirAt:
		res := o.call(ctx, o.providers.Air, ProviderAir, q)
		ans.Results[res.Provider] = res
		return finishRequired(ans, res)

	case KindTrafficAt:
		res := o.call(ctx, o.providers.Traffic, ProviderTraffic, q)
		ans.Results[res.Provider] = res
		return finishRequired(ans, res)

	case KindSearch:
		return o.resolveSearch(ctx, q, ans)

	case KindRoute:
		return o.resolveRoute(ctx, q, ans)
	}

	return CompositeAnswer{}, fmt.Errorf("%w: unhandled query kind %q", ErrValidation, q.Kind)
}

// call resolves one provider sub-query through the cache store, keyed by
// (provider name, canonical key).
func (o *Orchestrator) call(ctx context.Context, p Provider, name string, q Query) ProviderResult {
	if p == nil {
		return ProviderResult{
			Provider: name,
			Failure: &Failure{
				Provider: name,
				Kind:     FailureUpstream,
				Message:  "provider not configured",
			},
		}
	}

	key := name + ":" + string(q.Canonical)
	entry, err := o.store.GetOrFetch(ctx, key, func(fctx context.Context) (any, error) {
		start := time.Now()
		payload, fetchErr := p.Fetch(fctx, q)
		if o.observer != nil {
			var kind string
			if fetchErr != nil {
				kind = string(failureFrom(name, fetchErr).Kind)
			}
			o.observer.ObserveProvider(name, start, kind)
		}
		return payload, fetchErr
	})
	if err != nil {
		return ProviderResult{Provider: name, Failure: failureFrom(name, err)}
	}
	return ProviderResult{
		Provider:  name,
		FetchedAt: entry.FetchedAt,
		Stale:     entry.Stale,
		Payload:   entry.Value,
	}
}

// resolveSearch geocodes the place, then fans out to the optional weather,
// air and traffic providers in parallel at the resolved point. Only the
// geocoder is required.
func (o *Orchestrator) resolveSearch(ctx context.Context, q Query, ans CompositeAnswer) (CompositeAnswer, error) {
	geoRes := o.call(ctx, o.providers.Geocoder, ProviderGeocoder, q)
	ans.Results[ProviderGeocoder] = geoRes
	if !geoRes.OK() {
		return finishRequired(ans, geoRes)
	}

	loc, ok := geoRes.Payload.(GeocodeResult)
	if !ok {
		return ans, fmt.Errorf("%w: geocoder returned unexpected payload", ErrAllProvidersFailed)
	}

	type optional struct {
		name     string
		kind     QueryKind
		provider Provider
	}
	extras := []optional{
		{ProviderWeather, KindWeatherAt, o.providers.Weather},
		{ProviderAir, KindAirAt, o.providers.Air},
		{ProviderTraffic, KindTrafficAt, o.providers.Traffic},
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, ex := range extras {
		if ex.provider == nil {
			continue
		}
		sub, err := Normalize(RawQuery{Kind: ex.kind, Lat: loc.Lat, Lon: loc.Lon}, o.precision)
		if err != nil {
			// Geocoded coordinates are always in range; guard anyway.
			slog.Warn("skipping sub-query", "kind", ex.kind, "error", err)
			continue
		}

		ex := ex
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := o.call(ctx, ex.provider, ex.name, sub)
			mu.Lock()
			ans.Results[ex.name] = res
			if !res.OK() {
				ans.Partial = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return ans, nil
}

// resolveRoute geocodes unresolved endpoints (in parallel across endpoints)
// strictly before calling the router, which depends on their coordinates.
// Required set: geocoder (when any endpoint is named) plus router.
func (o *Orchestrator) resolveRoute(ctx context.Context, q Query, ans CompositeAnswer) (CompositeAnswer, error) {
	resolved := make([]Waypoint, len(q.Waypoints))
	places := make([]GeocodeResult, len(q.Waypoints))
	needsGeocoder := false

	g, gctx := errgroup.WithContext(ctx)
	for i, wp := range q.Waypoints {
		if wp.Resolved() {
			resolved[i] = wp
			places[i] = GeocodeResult{Lat: wp.Point.Lat, Lon: wp.Point.Lon}
			continue
		}
		needsGeocoder = true

		i, wp := i, wp
		g.Go(func() error {
			sub, err := Normalize(RawQuery{Kind: KindAddressLookup, Text: wp.Name}, o.precision)
			if err != nil {
				return err
			}
			res := o.call(gctx, o.providers.Geocoder, ProviderGeocoder, sub)
			if !res.OK() {
				return res.Failure
			}
			loc, ok := res.Payload.(GeocodeResult)
			if !ok {
				return fmt.Errorf("%w: geocoder returned unexpected payload", ErrUpstream)
			}
			pt := Point{Lat: loc.Lat, Lon: loc.Lon}
			resolved[i] = Waypoint{Name: wp.Name, Point: &pt}
			places[i] = loc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		geoFail := failureFrom(ProviderGeocoder, err)
		ans.Results[ProviderGeocoder] = ProviderResult{Provider: ProviderGeocoder, Failure: geoFail}
		ans.Results[ProviderRouter] = ProviderResult{
			Provider: ProviderRouter,
			Failure:  dependencyFailure(ProviderRouter, err),
		}
		if geoFail.Kind == FailureDeadline {
			return ans, fmt.Errorf("%w: geocoding route endpoints", ErrDeadlineExceeded)
		}
		// Neither required provider produced anything.
		return ans, fmt.Errorf("%w: %s", ErrAllProvidersFailed, geoFail.Message)
	}

	if needsGeocoder {
		ans.Results[ProviderGeocoder] = ProviderResult{Provider: ProviderGeocoder, Payload: places}
	}

	rq := q
	rq.Waypoints = resolved
	routerRes := o.call(ctx, o.providers.Router, ProviderRouter, rq)
	ans.Results[ProviderRouter] = routerRes
	if routerRes.OK() {
		return ans, nil
	}

	if routerRes.Failure.Kind == FailureDeadline {
		return ans, fmt.Errorf("%w: route computation", ErrDeadlineExceeded)
	}
	if needsGeocoder {
		// Geocoder succeeded, router failed: the required set did not
		// entirely fail, so the answer is partial rather than an error.
		ans.Partial = true
		return ans, nil
	}
	return ans, fmt.Errorf("%w: %s", ErrAllProvidersFailed, routerRes.Failure.Message)
}

// finishRequired completes a query whose required set is the single provider
// behind res.
func finishRequired(ans CompositeAnswer, res ProviderResult) (CompositeAnswer, error) {
	if res.OK() {
		return ans, nil
	}
	if res.Failure.Kind == FailureDeadline {
		return ans, fmt.Errorf("%w: %s", ErrDeadlineExceeded, res.Provider)
	}
	return ans, fmt.Errorf("%w: %s", ErrAllProvidersFailed,
		strings.Join([]string{res.Provider, string(res.Failure.Kind)}, " "))
}
