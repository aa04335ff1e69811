// Package dial connects to the first reachable endpoint of an ordered list.
package dial

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
)

type Candidate struct {
	Name string
	URL  string
}

// AttemptFunc opens a connection to one candidate. It must honor ctx.
type AttemptFunc[T any] func(ctx context.Context, candidate Candidate) (T, error)

// FallbackError is returned when every candidate failed. Errors holds one
// cause per candidate, in attempt order.
type FallbackError struct {
	Errors *multierror.Error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("all %d endpoints failed: %s", e.Errors.Len(), e.Errors.Error())
}

func (e *FallbackError) Unwrap() error { return e.Errors.ErrorOrNil() }

type Dialer[T any] struct {
	log        *slog.Logger
	candidates []Candidate
	timeout    time.Duration
	attempt    AttemptFunc[T]
}

func NewDialer[T any](log *slog.Logger, candidates []Candidate, timeout time.Duration, attempt AttemptFunc[T]) *Dialer[T] {
	return &Dialer[T]{log: log, candidates: candidates, timeout: timeout, attempt: attempt}
}

// Dial tries each candidate in order, each with its own timeout, and returns
// the first connection that opens along with the candidate that served it.
func (d *Dialer[T]) Dial(ctx context.Context) (T, Candidate, error) {
	var zero T
	if len(d.candidates) == 0 {
		return zero, Candidate{}, fmt.Errorf("no endpoint to dial")
	}
	var causes *multierror.Error
	for _, candidate := range d.candidates {
		if err := ctx.Err(); err != nil {
			return zero, Candidate{}, err
		}
		conn, err := d.try(ctx, candidate)
		if err == nil {
			d.log.Info("Connected", "endpoint", candidate.Name, "url", candidate.URL)
			return conn, candidate, nil
		}
		d.log.Warn("Endpoint unreachable, trying the next one", "endpoint", candidate.Name, "error", err)
		causes = multierror.Append(causes, fmt.Errorf("%s: %w", candidate.Name, err))
	}
	return zero, Candidate{}, &FallbackError{Errors: causes}
}

func (d *Dialer[T]) try(ctx context.Context, candidate Candidate) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.attempt(attemptCtx, candidate)
}

// Expand builds one candidate per host and scheme, hosts first.
// Hosts without a scheme get each scheme, e.g. "wss" then "ws".
func Expand(hosts []string, schemes []string, path string) []Candidate {
	var res []Candidate
	for _, host := range lo.Compact(lo.Map(hosts, func(h string, _ int) string { return strings.TrimSpace(h) })) {
		if strings.Contains(host, "://") {
			res = append(res, Candidate{Name: host, URL: host + path})
			continue
		}
		for _, scheme := range schemes {
			url := fmt.Sprintf("%s://%s%s", scheme, host, path)
			res = append(res, Candidate{Name: url, URL: url})
		}
	}
	return res
}
