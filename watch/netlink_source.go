package watch

import (
	"context"

	"github.com/ddcutil-go/ddcutil/host/netlink"
)

// NetlinkSource adapts a netlink.Listener to WakeupSource, filtering to
// DRM connector events so unrelated uevents don't trigger a reconcile.
type NetlinkSource struct {
	Listener *netlink.Listener
}

func (s *NetlinkSource) Recv(ctx context.Context) error {
	for {
		ev, err := s.Listener.Recv(ctx)
		if err != nil {
			return err
		}
		if ev.IsDRMConnectorEvent() {
			return nil
		}
	}
}
