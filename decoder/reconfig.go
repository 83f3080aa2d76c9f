package decoder

import (
	"fmt"
	"hash"
	"io"

	"github.com/ugparu/vdec"
)

// FlushMode selects what happens to pictures still waiting for output when a new sequence forces
// the decoder to reallocate its surfaces.
type FlushMode uint8

// Flush modes.
const (
	FlushNone       FlushMode = iota // Pending pictures are dropped.
	FlushDumpToFile                  // Pending pictures are written to Output.
	FlushChecksum                    // Pending pictures are fed to Checksum.
)

// String returns the human-readable string representation of a FlushMode.
func (m FlushMode) String() string {
	switch m {
	case FlushNone:
		return "NONE"
	case FlushDumpToFile:
		return "DUMP_TO_FILE"
	case FlushChecksum:
		return "CHECKSUM"
	}
	return "UNKNOWN"
}

// ParseFlushMode maps a configuration name onto a FlushMode.
func ParseFlushMode(name string) (FlushMode, bool) {
	switch name {
	case "", "none":
		return FlushNone, true
	case "dump":
		return FlushDumpToFile, true
	case "md5", "checksum":
		return FlushChecksum, true
	}
	return FlushNone, false
}

// ReconfigParams is the flush strategy used on reconfiguration.
type ReconfigParams struct {
	Mode     FlushMode
	Output   io.Writer
	Checksum hash.Hash
	// Flush, when set, receives every pending picture instead of the built-in mode handling. The
	// frame is only valid during the call.
	Flush func(frame *OutputFrame) error
}

// Validate checks that the mode has somewhere to write to.
func (p *ReconfigParams) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil reconfigure params", vdec.ErrInvalidParameter)
	}
	if p.Flush != nil {
		return nil
	}
	switch p.Mode {
	case FlushNone:
	case FlushDumpToFile:
		if p.Output == nil {
			return fmt.Errorf("%w: dump flush without output", vdec.ErrInvalidParameter)
		}
	case FlushChecksum:
		if p.Checksum == nil {
			return fmt.Errorf("%w: checksum flush without hash", vdec.ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%w: flush mode %d", vdec.ErrInvalidParameter, p.Mode)
	}
	return nil
}

// target returns where pending pictures go, nil when they are dropped.
func (p *ReconfigParams) target() io.Writer {
	if p == nil {
		return nil
	}
	switch p.Mode {
	case FlushDumpToFile:
		return p.Output
	case FlushChecksum:
		return p.Checksum
	}
	return nil
}
