// Package netif enumerates local network interface addresses for the
// querier.
//
// The querier never calls the OS interface APIs directly; it consumes a
// Provider, so tests can substitute a fixed address set and exercise the
// socket map without a real NIC.
package netif

import (
	"net"

	"github.com/joshuafuller/scout/internal/errors"
)

// Address is one local interface address: the printable form that keys
// the querier's socket map, the raw IP, and the owning interface for
// multicast group membership.
type Address struct {
	// Printable is the text form of the address ("192.168.1.4"). It is
	// the identity of the interface within a Performer.
	Printable string

	// IP is the raw address, used to bind the socket.
	IP net.IP

	// Zone is the IPv6 scope zone (interface name) for link-local
	// addresses, empty for IPv4.
	Zone string

	// Interface is the owning NIC, used to join the multicast group on
	// that specific interface. Nil means join on the default interface.
	Interface *net.Interface
}

// Provider yields the local interface addresses of each family.
type Provider interface {
	// IPv4 returns every IPv4 address assigned to an interface that is
	// administratively up.
	IPv4() ([]Address, error)

	// IPv6 returns every IPv6 address assigned to an interface that is
	// administratively up.
	IPv6() ([]Address, error)
}

// System returns the Provider backed by the OS interface table.
func System() Provider { return systemProvider{} }

type systemProvider struct{}

func (systemProvider) IPv4() ([]Address, error) { return list(true) }

func (systemProvider) IPv6() ([]Address, error) { return list(false) }

func list(v4 bool) ([]Address, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "list interfaces",
			Err:       err,
			Details:   "failed to read the OS interface table",
		}
	}

	var out []Address
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			// An interface that cannot report addresses is skipped,
			// not fatal; the remaining interfaces are still usable.
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP
			if v4 != (ip.To4() != nil) {
				continue
			}
			a := Address{
				Printable: ip.String(),
				IP:        ip,
				Interface: &ifaces[i],
			}
			if !v4 && ip.IsLinkLocalUnicast() {
				a.Zone = iface.Name
			}
			out = append(out, a)
		}
	}
	return out, nil
}

// Static returns a Provider over a fixed address set, for tests and for
// callers that restrict discovery to specific interfaces.
func Static(v4, v6 []Address) Provider { return staticProvider{v4: v4, v6: v6} }

type staticProvider struct {
	v4, v6 []Address
}

func (p staticProvider) IPv4() ([]Address, error) { return p.v4, nil }

func (p staticProvider) IPv6() ([]Address, error) { return p.v6, nil }
