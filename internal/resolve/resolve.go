// Package resolve implements the family-aware DNS resolution component
// (spec.md §4.3): it turns a hostname into an ordered list of candidate
// endpoints, filtered and ordered by the configured IP version.
package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/QUIC-Lab/quic-lab/internal/agd"
	"github.com/QUIC-Lab/quic-lab/internal/agderrors"
	"github.com/bluele/gcache"
)

// netResolver is the subset of *net.Resolver the Resolver depends on,
// grounded directly on the teacher's agdnet.Resolver interface.
type netResolver interface {
	LookupNetIP(ctx context.Context, fam netutil.AddrFamily, host string) (ips []netip.Addr, err error)
}

// defaultResolver resolves using [net.DefaultResolver], exactly as the
// teacher's agdnet.DefaultResolver does.
type defaultResolver struct{}

// type check
var _ netResolver = defaultResolver{}

func (defaultResolver) LookupNetIP(
	ctx context.Context,
	fam netutil.AddrFamily,
	host string,
) (ips []netip.Addr, err error) {
	switch fam {
	case netutil.AddrFamilyIPv4:
		return net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	case netutil.AddrFamilyIPv6:
		return net.DefaultResolver.LookupNetIP(ctx, "ip6", host)
	default:
		return nil, net.UnknownNetworkError(fam.String())
	}
}

// cacheTTL is how long a successful resolution is kept in the Resolver's
// bounded LRU, so that distinct ConnectionConfig variants in a retry ladder
// don't each re-resolve the same host (spec.md §4.8 tie-break).
const cacheTTL = 30 * time.Second

// cacheSize is the maximum number of distinct hosts kept in the cache.
const cacheSize = 4096

// Resolver resolves a hostname into an ordered set of candidate
// (ip,port) endpoints, filtered by [agd.IPVersion] (spec.md §4.3).
type Resolver struct {
	lookup netResolver
	cache  gcache.Cache
	port   func() uint16
}

// New returns a new *Resolver using [net.DefaultResolver].
func New() *Resolver {
	return &Resolver{
		lookup: defaultResolver{},
		cache:  gcache.New(cacheSize).LRU().Build(),
	}
}

// cacheKey identifies a (host, family) pair in the resolver's cache.
type cacheKey struct {
	host string
	fam  agd.IPVersion
}

// Resolve resolves host into an ordered list of candidate endpoints on
// port, honoring ver.  auto prefers AAAA unless the host has no AAAA
// records, per RFC 6724-style ordering (spec.md §4.3).
func (r *Resolver) Resolve(
	ctx context.Context,
	host string,
	port uint16,
	ver agd.IPVersion,
) (endpoints []netip.AddrPort, err error) {
	key := cacheKey{host: host, fam: ver}
	if cached, cacheErr := r.cache.Get(key); cacheErr == nil {
		return withPort(cached.([]netip.Addr), port), nil
	}

	var ips []netip.Addr
	switch ver {
	case agd.IPVersionIPv4:
		ips, err = r.lookupFamily(ctx, host, netutil.AddrFamilyIPv4)
	case agd.IPVersionIPv6:
		ips, err = r.lookupFamily(ctx, host, netutil.AddrFamilyIPv6)
	case agd.IPVersionAuto, "":
		ips, err = r.lookupAuto(ctx, host)
	default:
		return nil, agderrors.Resolutionf("unknown ip version %q", ver)
	}

	if err != nil {
		return nil, err
	}

	if len(ips) == 0 {
		return nil, agderrors.Resolutionf("no %s addresses found for %q", ver, host)
	}

	if setErr := r.cache.SetWithExpire(key, ips, cacheTTL); setErr != nil {
		// Shouldn't happen, since we don't set a serialization function.
		panic(fmt.Errorf("resolver cache: setting cache item: %w", setErr))
	}

	return withPort(ips, port), nil
}

// lookupFamily resolves host for a single address family, translating a
// miss into a resolution error per spec.md §4.3/§8 boundary 10.
func (r *Resolver) lookupFamily(
	ctx context.Context,
	host string,
	fam netutil.AddrFamily,
) (ips []netip.Addr, err error) {
	ips, err = r.lookup.LookupNetIP(ctx, fam, host)
	if err != nil && !isExpectedLookupError(fam, err) {
		return nil, agderrors.Resolutionf("resolving %s addr for %q: %s", fam, host, err)
	}

	return ips, nil
}

// lookupAuto resolves both families and orders the result with AAAA
// preferred, unless the host has no AAAA records at all.
func (r *Resolver) lookupAuto(ctx context.Context, host string) (ips []netip.Addr, err error) {
	v6, err := r.lookupFamily(ctx, host, netutil.AddrFamilyIPv6)
	if err != nil {
		return nil, err
	}

	v4, err := r.lookupFamily(ctx, host, netutil.AddrFamilyIPv4)
	if err != nil {
		return nil, err
	}

	return append(v6, v4...), nil
}

// withPort pairs every address with port.
func withPort(ips []netip.Addr, port uint16) (endpoints []netip.AddrPort) {
	endpoints = make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		endpoints = append(endpoints, netip.AddrPortFrom(ip, port))
	}

	return endpoints
}

// isExpectedLookupError reports whether err is the expected "no records of
// this family" shape of error rather than a genuine resolution failure,
// grounded directly on the teacher's agdnet.isExpectedLookupError.
func isExpectedLookupError(fam netutil.AddrFamily, err error) (ok bool) {
	var dnsErr *net.DNSError
	if fam == netutil.AddrFamilyIPv6 && errors.As(err, &dnsErr) {
		return true
	}

	var addrErr *net.AddrError
	if !errors.As(err, &addrErr) {
		return false
	}

	return addrErr.Err == "no suitable address found"
}
