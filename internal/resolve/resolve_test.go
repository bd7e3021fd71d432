package resolve_test

import (
	"context"
	"net/netip"
	"testing"

	"github.com/AdguardTeam/golibs/netutil"
	"github.com/QUIC-Lab/quic-lab/internal/agd"
	"github.com/QUIC-Lab/quic-lab/internal/agderrors"
	"github.com/QUIC-Lab/quic-lab/internal/resolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLookup is a minimal stand-in for net.DefaultResolver used in tests.
type fakeLookup struct {
	v4 []netip.Addr
	v6 []netip.Addr
}

func (f *fakeLookup) LookupNetIP(
	_ context.Context,
	fam netutil.AddrFamily,
	_ string,
) ([]netip.Addr, error) {
	if fam == netutil.AddrFamilyIPv4 {
		return f.v4, nil
	}

	return f.v6, nil
}

func TestResolver_ipv6OnlyFailsOnA_onlyHost(t *testing.T) {
	r := resolve.New()
	resolve.SetLookupForTest(r, &fakeLookup{v4: []netip.Addr{netip.MustParseAddr("192.0.2.1")}})

	_, err := r.Resolve(context.Background(), "a-only.test", 443, agd.IPVersionIPv6)
	require.Error(t, err)

	var appErr *agderrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, agderrors.KindResolution, appErr.Kind)
}

func TestResolver_autoPrefersIPv6(t *testing.T) {
	r := resolve.New()
	resolve.SetLookupForTest(r, &fakeLookup{
		v4: []netip.Addr{netip.MustParseAddr("192.0.2.1")},
		v6: []netip.Addr{netip.MustParseAddr("2001:db8::1")},
	})

	endpoints, err := r.Resolve(context.Background(), "dual.test", 443, agd.IPVersionAuto)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.True(t, endpoints[0].Addr().Is6())
	assert.True(t, endpoints[1].Addr().Is4())
}
