//go:build !dpdk

package capture

import (
	"fmt"

	"github.com/minorway/dnsobserve/internal/config"
	"github.com/minorway/dnsobserve/internal/flow"
)

// dpdkSource stands in for the cgo DPDK backend in builds without the dpdk
// build tag. Initialize and Start fail with a clear "not built with dpdk"
// error rather than silently falling back to another capture mode; the
// remaining methods are no-ops.
type dpdkSource struct{}

func newDPDKSource(cfg config.Capture, stats Stats) *dpdkSource {
	return &dpdkSource{}
}

var errDPDKNotBuilt = fmt.Errorf("capture: dpdk backend not built (build with -tags dpdk)")

func (s *dpdkSource) Initialize() error                { return errDPDKNotBuilt }
func (s *dpdkSource) Start() error                     { return errDPDKNotBuilt }
func (s *dpdkSource) Stop()                            {}
func (s *dpdkSource) Receive(max int) []flow.Frame     { return nil }
func (s *dpdkSource) Send(frames [][]byte) int         { return 0 }
func (s *dpdkSource) SnapshotStats() CaptureStats      { return CaptureStats{} }
func (s *dpdkSource) Shutdown()                        {}
