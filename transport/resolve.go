package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/nczempin/mqttnet-go/errors"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// resolveIPv4 asks for every address family and keeps the first IPv4 answer.
func resolveIPv4(ctx context.Context, r Resolver, host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap()
		if !ip.Is4() {
			return netip.Addr{}, errors.NewTransportError(
				errors.TransportErrorNoIPv4Address,
				fmt.Sprintf("%s is not an IPv4 address", host),
				nil,
			)
		}
		return ip, nil
	}

	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return netip.Addr{}, errors.NewTransportError(
			errors.TransportErrorDnsFailure,
			fmt.Sprintf("failed to resolve %s", host),
			err,
		)
	}

	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			return netip.AddrFrom4([4]byte(ip4)), nil
		}
	}

	return netip.Addr{}, errors.NewTransportError(
		errors.TransportErrorNoIPv4Address,
		fmt.Sprintf("%s has no IPv4 address (%d candidates)", host, len(addrs)),
		nil,
	)
}
