//go:build !pyroscope
// +build !pyroscope

package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing, the binary was built without the pyroscope tag.
func Start(log *logging.Logger) error {
	log.Debug("Pyroscope is disabled")
	return nil
}
