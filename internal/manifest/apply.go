package manifest

import (
	"context"
	"fmt"

	"github.com/osa911/fastcaddy/internal/caddy"
	"github.com/osa911/fastcaddy/internal/service"
)

// RouteIDs lists the ids the manifest creates, in application order.
func (m *Manifest) RouteIDs() []string {
	var ids []string
	for _, p := range m.Proxies {
		ids = append(ids, caddy.PlainRouteID(p.Domain))
	}
	for _, w := range m.Wildcards {
		ids = append(ids, caddy.WildcardRouteID(w.Base))
	}
	for _, w := range m.Wildcards {
		for _, s := range w.Subdomains {
			ids = append(ids, caddy.SubdomainRouteID(w.Base, s.Name))
		}
	}
	return ids
}

// Mode maps the force flag to an add mode.
func (m *Manifest) Mode() service.AddMode {
	if m.Force {
		return service.Replace
	}
	return service.FailIfExists
}

// Stage is one batch of a manifest run.
type Stage struct {
	Name   string
	Result service.BatchResult
}

// Report collects every stage of a manifest run.
type Report struct {
	Stages []Stage
}

// Failed counts failed entries across all stages.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Result.Failed()
	}
	return n
}

// Total counts entries across all stages.
func (r Report) Total() int {
	n := 0
	for _, s := range r.Stages {
		n += len(s.Result.Results)
	}
	return n
}

func (r Report) Summary() string {
	return fmt.Sprintf("%d/%d succeeded, %d failed", r.Total()-r.Failed(), r.Total(), r.Failed())
}

// Apply runs deletes, then proxies, then wildcards, then subdomains. Later
// stages run even when earlier ones had failures, so the report always
// covers every entry. Subdomains whose wildcard failed are still attempted
// and fall back to the server route list.
func Apply(ctx context.Context, svc service.RouteService, m *Manifest) Report {
	mode := m.Mode()
	var report Report

	if len(m.Delete) > 0 {
		report.Stages = append(report.Stages, Stage{"delete", svc.BatchDelete(ctx, m.Delete)})
	}

	if len(m.Proxies) > 0 {
		items := make([]service.Item, len(m.Proxies))
		for i, p := range m.Proxies {
			items[i] = service.Item{Domain: p.Domain, Target: p.Target}
		}
		report.Stages = append(report.Stages, Stage{"proxies", service.ApplyBatch(ctx, items,
			func(ctx context.Context, item service.Item) (service.Result, error) {
				return svc.SafeAdd(ctx, item.Domain, item.Target, mode)
			})})
	}

	if len(m.Wildcards) == 0 {
		return report
	}

	bases := make([]service.Item, len(m.Wildcards))
	for i, w := range m.Wildcards {
		bases[i] = service.Item{Domain: caddy.WildcardRouteID(w.Base), Target: w.Base}
	}
	report.Stages = append(report.Stages, Stage{"wildcards", service.ApplyBatch(ctx, bases,
		func(ctx context.Context, item service.Item) (service.Result, error) {
			return svc.SafeAddWildcard(ctx, item.Target, mode)
		})})

	subs := make(map[string]Subdomain)
	var items []service.Item
	for _, w := range m.Wildcards {
		for _, s := range w.Subdomains {
			id := caddy.SubdomainRouteID(w.Base, s.Name)
			subs[id] = s
			items = append(items, service.Item{Domain: id, Target: w.Base})
		}
	}
	if len(items) > 0 {
		report.Stages = append(report.Stages, Stage{"subdomains", service.ApplyBatch(ctx, items,
			func(ctx context.Context, item service.Item) (service.Result, error) {
				s := subs[item.Domain]
				return svc.SafeAddSubdomain(ctx, item.Target, s.Name, s.Ports, s.Host, mode)
			})})
	}
	return report
}
