//go:build !linux

package capture

import (
	"fmt"

	"firestige.xyz/meter/internal/config"
)

func newAFPacket(config.CaptureConfig, Options) (Capturer, error) {
	return nil, fmt.Errorf("capture: afpacket is only available on linux")
}
