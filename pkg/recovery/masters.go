// Package recovery implements the four-phase recovery algorithm that
// opens a log after a crash or clean restart: master validation, the
// two-phase LSN-location scan, checkpoint-chain discovery, and
// per-stream reconstruction.
package recovery

import (
	"context"
	"fmt"

	"physlog/pkg/blockdevice"
	"physlog/pkg/layout"
	"physlog/pkg/primitives"
)

// validateMasters is Phase 1: at least one master block copy must
// validate; if exactly one is corrupt, the open proceeds with a
// warning rather than failing.
func validateMasters(ctx context.Context, dev blockdevice.Device) (layout.MasterBlock, string, error) {
	a := make([]byte, primitives.BlockSize)
	b := make([]byte, primitives.BlockSize)
	offA, offB := layout.MasterOffsets()

	if _, err := dev.ReadAt(ctx, offA, a); err != nil {
		return layout.MasterBlock{}, "", err
	}
	if _, err := dev.ReadAt(ctx, offB, b); err != nil {
		return layout.MasterBlock{}, "", err
	}

	mb, warning, err := layout.ValidateEither(a, b)
	if err != nil {
		return layout.MasterBlock{}, "", err
	}
	if warning != "" {
		fmt.Printf("recovery: %s\n", warning)
	}
	return mb, warning, nil
}
