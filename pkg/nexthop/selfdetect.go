package nexthop

import "net"

// IsSelf reports whether hostname resolves to an address owned by this
// host. No ecosystem library addresses this narrow a concern, so it
// stays on net.LookupHost and the local interface address list.
func IsSelf(hostname string) bool {
	addrs, err := net.LookupHost(hostname)
	if err != nil {
		return false
	}
	local, err := localAddresses()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if local[a] {
			return true
		}
	}
	return false
}

func localAddresses() (map[string]bool, error) {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ifaces))
	for _, addr := range ifaces {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		out[ipNet.IP.String()] = true
	}
	return out, nil
}
