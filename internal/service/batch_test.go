package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/fastcaddy/internal/caddy"
)

func TestBatchAddCompleteness(t *testing.T) {
	srv, client := newAdmin(t)
	svc := newService(client)

	srv.FailID("b.test.com")
	srv.FailID("d.test.com")

	targets := map[string]string{
		"a.test.com": "localhost:8001",
		"b.test.com": "localhost:8002",
		"c.test.com": "localhost:8003",
		"d.test.com": "localhost:8004",
		"e.test.com": "localhost:8005",
	}
	br := svc.BatchAdd(context.Background(), targets, FailIfExists)

	require.Len(t, br.Results, len(targets))
	for d := range targets {
		_, ok := br.Results[d]
		assert.True(t, ok, "missing %s", d)
	}
	assert.Equal(t, map[string]bool{
		"a.test.com": true,
		"b.test.com": false,
		"c.test.com": true,
		"d.test.com": false,
		"e.test.com": true,
	}, br.Results)

	// Items after a failure were still attempted.
	assert.Equal(t, []string{"localhost:8005"}, srv.Upstreams("e.test.com"))
	assert.True(t, caddy.IsUnavailable(br.Errors["b.test.com"]))
	assert.Equal(t, "3/5 succeeded, 2 failed", br.Summary())
	assert.Equal(t, []string{"a.test.com", "c.test.com", "e.test.com"}, br.Active())
}

func TestBatchDeleteMixesPresentAndAbsent(t *testing.T) {
	srv, client := newAdmin(t)
	svc := newService(client)
	ctx := context.Background()

	_, err := svc.SafeAdd(ctx, "api.test.com", "localhost:8080", FailIfExists)
	require.NoError(t, err)

	br := svc.BatchDelete(ctx, []string{"api.test.com", "ghost.test.com"})
	assert.Equal(t, map[string]bool{"api.test.com": true, "ghost.test.com": true}, br.Results)
	assert.Empty(t, br.Errors)
	assert.Zero(t, srv.CountID("api.test.com"))
}

func TestBatchCheck(t *testing.T) {
	_, client := newAdmin(t)
	svc := newService(client)
	ctx := context.Background()

	_, err := svc.SafeAdd(ctx, "web.test.com", "localhost:3000", FailIfExists)
	require.NoError(t, err)

	br := svc.BatchCheck(ctx, []string{"web.test.com", "api.test.com"})
	assert.Equal(t, map[string]bool{"web.test.com": true, "api.test.com": false}, br.Results)
	assert.Equal(t, []string{"web.test.com"}, br.Active())
	assert.EqualError(t, br.Errors["api.test.com"], "not-found")
}

func TestApplyBatchStopsAttemptingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempted []string
	op := func(ctx context.Context, item Item) (Result, error) {
		attempted = append(attempted, item.Domain)
		if item.Domain == "b" {
			cancel()
		}
		return Result{ID: item.Domain, Outcome: OutcomeApplied}, nil
	}

	br := ApplyBatch(ctx, ItemsFromDomains([]string{"a", "b", "c", "d"}), op)

	assert.Equal(t, []string{"a", "b"}, attempted)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": false, "d": false}, br.Results)
	assert.ErrorIs(t, br.Errors["c"], context.Canceled)
	assert.Contains(t, br.Errors["d"].Error(), "not attempted")
	assert.Equal(t, []string{"a", "b", "c", "d"}, br.Domains())
}

func TestApplyBatchDuplicateDomainKeepsFirstFailure(t *testing.T) {
	calls := 0
	op := func(ctx context.Context, item Item) (Result, error) {
		calls++
		if calls == 1 {
			return Result{ID: item.Domain}, errors.New("boom")
		}
		return Result{ID: item.Domain, Outcome: OutcomeNoop}, nil
	}

	br := ApplyBatch(context.Background(), ItemsFromDomains([]string{"x", "x", "y", "y"}), op)
	assert.Equal(t, 4, calls)
	assert.Equal(t, map[string]bool{"x": false, "y": true}, br.Results)
	assert.EqualError(t, br.Errors["x"], "boom")
	assert.NotContains(t, br.Errors, "y")
	assert.Equal(t, []string{"x", "y"}, br.Domains())
	assert.Equal(t, "1/2 succeeded, 1 failed", br.Summary())
}

func TestItemsFromMapIsSorted(t *testing.T) {
	items := ItemsFromMap(map[string]string{"c": "3", "a": "1", "b": "2"})
	assert.Equal(t, []Item{{"a", "1"}, {"b", "2"}, {"c", "3"}}, items)
}
