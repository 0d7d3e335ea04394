package archive

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Router names one replayable router on a mirror.
type Router struct {
	Name string
	URL  string
}

// Mirror abstracts an upstream MRT archive source. The two deployed
// backends differ only in directory layout and compression.
type Mirror interface {
	Name() string
	ListRouters(ctx context.Context) ([]Router, error)
	// MonthDirs returns the directory URLs holding a router's archives
	// for the given month, in listing order.
	MonthDirs(router string, month time.Time) []string
}

// RouteViews serves https://archive.routeviews.org with per-router
// bgpdata/YYYY.MM/{RIBS,UPDATES} directories; archives are bzip2.
type RouteViews struct {
	BaseURL string
	Client  *http.Client
}

const routeViewsBaseURL = "https://archive.routeviews.org"

func NewRouteViews(client *http.Client) *RouteViews {
	return &RouteViews{BaseURL: routeViewsBaseURL, Client: client}
}

func (rv *RouteViews) Name() string { return "routeviews" }

var routeViewsRouterRe = regexp.MustCompile(`^route-views[0-9a-z.-]*/$`)

func (rv *RouteViews) ListRouters(ctx context.Context) ([]Router, error) {
	names, err := ListIndex(ctx, rv.Client, rv.BaseURL+"/")
	if err != nil {
		return nil, fmt.Errorf("routeviews: %w", err)
	}
	var routers []Router
	for _, n := range names {
		if !routeViewsRouterRe.MatchString(n) {
			continue
		}
		name := strings.TrimSuffix(n, "/")
		routers = append(routers, Router{Name: name, URL: rv.BaseURL + "/" + name})
	}
	// The collector's own table lives at the top level without a router
	// directory prefix.
	routers = append(routers, Router{Name: "route-views2", URL: rv.BaseURL})
	sort.Slice(routers, func(i, j int) bool { return routers[i].Name < routers[j].Name })
	return dedupeRouters(routers), nil
}

func (rv *RouteViews) MonthDirs(router string, month time.Time) []string {
	base := rv.BaseURL
	if router != "route-views2" {
		base += "/" + router
	}
	m := month.Format("2006.01")
	return []string{
		base + "/bgpdata/" + m + "/RIBS/",
		base + "/bgpdata/" + m + "/UPDATES/",
	}
}

// RIPERIS serves https://data.ris.ripe.net with per-rrc YYYY.MM
// directories; archives are gzip and RIBs are named bview.
type RIPERIS struct {
	BaseURL string
	Client  *http.Client
}

const ripeRISBaseURL = "https://data.ris.ripe.net"

func NewRIPERIS(client *http.Client) *RIPERIS {
	return &RIPERIS{BaseURL: ripeRISBaseURL, Client: client}
}

func (rp *RIPERIS) Name() string { return "ripe" }

var ripeRouterRe = regexp.MustCompile(`^rrc\d{2}/$`)

func (rp *RIPERIS) ListRouters(ctx context.Context) ([]Router, error) {
	names, err := ListIndex(ctx, rp.Client, rp.BaseURL+"/")
	if err != nil {
		return nil, fmt.Errorf("ripe: %w", err)
	}
	var routers []Router
	for _, n := range names {
		if !ripeRouterRe.MatchString(n) {
			continue
		}
		name := strings.TrimSuffix(n, "/")
		routers = append(routers, Router{Name: name, URL: rp.BaseURL + "/" + name})
	}
	sort.Slice(routers, func(i, j int) bool { return routers[i].Name < routers[j].Name })
	return routers, nil
}

func (rp *RIPERIS) MonthDirs(router string, month time.Time) []string {
	return []string{rp.BaseURL + "/" + router + "/" + month.Format("2006.01") + "/"}
}

func dedupeRouters(routers []Router) []Router {
	out := routers[:0]
	var last string
	for _, r := range routers {
		if r.Name == last {
			continue
		}
		out = append(out, r)
		last = r.Name
	}
	return out
}
