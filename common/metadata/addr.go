package metadata

import (
	"net"
	"net/netip"
	"strconv"
)

// Socksaddr is an IP endpoint. The zero value is invalid and stands for "absent".
type Socksaddr struct {
	Addr netip.Addr
	Port uint16
}

func (ap Socksaddr) IsValid() bool {
	return ap.Addr.IsValid()
}

func (ap Socksaddr) String() string {
	if !ap.IsValid() {
		return "<invalid>"
	}
	return net.JoinHostPort(ap.Addr.String(), strconv.Itoa(int(ap.Port)))
}

func SocksaddrFromNetIP(ap netip.AddrPort) Socksaddr {
	return Socksaddr{
		Addr: ap.Addr().Unmap(),
		Port: ap.Port(),
	}
}

func SocksaddrFromNet(netAddr net.Addr) Socksaddr {
	switch addr := netAddr.(type) {
	case *net.TCPAddr:
		return SocksaddrFromNetIP(addr.AddrPort())
	}
	return Socksaddr{}
}
