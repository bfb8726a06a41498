package service

import (
	"context"
	"fmt"
	"sort"
)

// Item is one unit of batch work. Target is empty for checks and deletes.
type Item struct {
	Domain string
	Target string
}

// ItemsFromMap turns domain -> target pairs into items sorted by domain, so
// runs are repeatable.
func ItemsFromMap(targets map[string]string) []Item {
	items := make([]Item, 0, len(targets))
	for d, t := range targets {
		items = append(items, Item{Domain: d, Target: t})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Domain < items[j].Domain })
	return items
}

// ItemsFromDomains keeps the given order.
func ItemsFromDomains(domains []string) []Item {
	items := make([]Item, 0, len(domains))
	for _, d := range domains {
		items = append(items, Item{Domain: d})
	}
	return items
}

// Operation is applied to each item of a batch.
type Operation func(ctx context.Context, item Item) (Result, error)

// BatchResult holds an entry for every input domain.
type BatchResult struct {
	Results map[string]bool
	Errors  map[string]error
	order   []string
}

// ApplyBatch runs op on every item in order. A failing item never stops the
// ones after it and nothing is rolled back. Once ctx is done the remaining
// items are recorded as failed without being attempted.
func ApplyBatch(ctx context.Context, items []Item, op Operation) BatchResult {
	br := BatchResult{
		Results: make(map[string]bool, len(items)),
		Errors:  make(map[string]error),
	}

	for _, item := range items {
		if _, seen := br.Results[item.Domain]; !seen {
			br.order = append(br.order, item.Domain)
		}

		if err := ctx.Err(); err != nil {
			br.record(item.Domain, fmt.Errorf("not attempted: %w", err))
			continue
		}

		res, err := op(ctx, item)
		br.record(item.Domain, errorOf(res, err))
	}
	return br
}

func (br *BatchResult) record(domain string, err error) {
	// A repeated domain never clears an earlier failure.
	if ok, seen := br.Results[domain]; seen && !ok {
		return
	}
	br.Results[domain] = err == nil
	if err != nil {
		br.Errors[domain] = err
	} else {
		delete(br.Errors, domain)
	}
}

// Domains returns the input domains in the order they were processed.
func (br BatchResult) Domains() []string {
	return append([]string(nil), br.order...)
}

// Succeeded counts true entries.
func (br BatchResult) Succeeded() int {
	n := 0
	for _, ok := range br.Results {
		if ok {
			n++
		}
	}
	return n
}

// Failed counts false entries.
func (br BatchResult) Failed() int {
	return len(br.Results) - br.Succeeded()
}

// Active lists the domains whose operation succeeded, in processing order.
// For a check batch these are the domains currently configured.
func (br BatchResult) Active() []string {
	var out []string
	for _, d := range br.order {
		if br.Results[d] {
			out = append(out, d)
		}
	}
	return out
}

// Summary is the terminal report line.
func (br BatchResult) Summary() string {
	return fmt.Sprintf("%d/%d succeeded, %d failed", br.Succeeded(), len(br.Results), br.Failed())
}

func (s *routeService) BatchCheck(ctx context.Context, ids []string) BatchResult {
	return ApplyBatch(ctx, ItemsFromDomains(ids), func(ctx context.Context, item Item) (Result, error) {
		ok, err := s.Check(ctx, item.Domain)
		if err != nil {
			return Result{ID: item.Domain}, err
		}
		if !ok {
			return Result{ID: item.Domain, Outcome: OutcomeNotFound}, nil
		}
		return Result{ID: item.Domain, Outcome: OutcomeNoop}, nil
	})
}

func (s *routeService) BatchAdd(ctx context.Context, targets map[string]string, mode AddMode) BatchResult {
	return ApplyBatch(ctx, ItemsFromMap(targets), func(ctx context.Context, item Item) (Result, error) {
		return s.SafeAdd(ctx, item.Domain, item.Target, mode)
	})
}

func (s *routeService) BatchDelete(ctx context.Context, ids []string) BatchResult {
	return ApplyBatch(ctx, ItemsFromDomains(ids), func(ctx context.Context, item Item) (Result, error) {
		return s.SafeDelete(ctx, item.Domain)
	})
}
