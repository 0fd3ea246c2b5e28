package devicepool

import (
	"context"

	"github.com/danielpaulus/go-ios/ios"

	"github.com/devicelab-dev/quern/internal/simhost"
)

// lister is the pool's narrow device-enumeration surface, combining
// simulators (simhost) and physical devices (go-ios) behind one
// interface so Resolve/Ensure don't care which kind they're matching.
// Kept as an interface so tests can fake it, the same seam tunnel.Resolver
// uses for deviceLister.
type lister interface {
	List(ctx context.Context) ([]deviceInfo, error)
}

type combinedLister struct {
	sim *simhost.Host
}

func newLister(sim *simhost.Host) *combinedLister {
	return &combinedLister{sim: sim}
}

func (l *combinedLister) List(ctx context.Context) ([]deviceInfo, error) {
	var out []deviceInfo

	sims, err := l.sim.List(ctx)
	if err == nil {
		for _, s := range sims {
			out = append(out, deviceInfo{
				UDID:        s.UDID,
				Name:        s.Name,
				Booted:      s.Booted(),
				IsSimulator: true,
			})
		}
	}

	if list, err := ios.ListDevices(); err == nil {
		for _, d := range list.DeviceList {
			out = append(out, deviceInfo{
				UDID:        d.Properties.SerialNumber,
				Name:        d.Properties.SerialNumber,
				Booted:      true, // a usbmuxd-enumerated device is connected and running
				IsSimulator: false,
			})
		}
	}

	return out, nil
}
