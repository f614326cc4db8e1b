// Package netutil provides host-level TAP network device management for
// the node-agent: VM network devices are backed by per-VM TAP interfaces
// on the host, created at VM start and swept by orphan reconciliation.
package netutil

import (
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/qarax/qarax/lib/errs"
)

// TAPPrefix is the naming prefix node-agent gives every TAP device it
// creates, matching paths.Paths.TAPPrefix's "qt" decoration.
const TAPPrefix = "qt"

// ListTAPs returns the names of all TAP devices on the host carrying the
// node-agent's naming prefix.
func ListTAPs() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "list network links", err)
	}

	var names []string
	for _, link := range links {
		if link.Type() != "tuntap" {
			continue
		}
		name := link.Attrs().Name
		if strings.HasPrefix(name, TAPPrefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

// RemoveTAP deletes a TAP device by name. A missing device is not an
// error, so repeated teardown stays idempotent.
func RemoveTAP(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil
	}
	if err := netlink.LinkDel(link); err != nil {
		return errs.Wrap(errs.ErrTransport, "delete TAP device "+name, err)
	}
	return nil
}
