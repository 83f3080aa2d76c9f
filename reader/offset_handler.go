package reader

import "github.com/ugparu/vdec"

// offsetHandler rebases presentation timestamps so they keep increasing across reopens of a live
// source and across jumps of more than jump ticks backwards.
type offsetHandler struct {
	lastPts      int64
	lastDuration int64
	offset       int64
	jump         int64
	started      bool
	gap          bool
}

// recalcForGap makes the next timestamp follow the last one.
func (oh *offsetHandler) recalcForGap() {
	if oh.started {
		oh.gap = true
	}
}

// apply rewrites the unit timestamp. It returns false when the unit goes backwards and must be
// dropped.
func (oh *offsetHandler) apply(au *vdec.AccessUnit) bool {
	if au.Flags&vdec.FlagTimestamp == 0 {
		return true
	}

	pts := au.Pts + oh.offset
	if oh.started && oh.jump > 0 && oh.lastPts-pts > oh.jump {
		oh.gap = true
	}
	if oh.gap {
		oh.offset = oh.lastPts + max(oh.lastDuration, 1) - au.Pts
		pts = au.Pts + oh.offset
		au.Flags |= vdec.FlagDiscontinuity
		oh.gap = false
	}

	if oh.started {
		if pts < oh.lastPts {
			return false
		}
		if pts > oh.lastPts {
			oh.lastDuration = pts - oh.lastPts
		}
	}
	oh.lastPts, oh.started = pts, true
	au.Pts = pts
	return true
}
