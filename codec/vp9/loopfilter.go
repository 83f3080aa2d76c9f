package vp9

// LoopFilterLevels holds the filter level per segment, reference frame and mode delta.
type LoopFilterLevels [MaxSegments][MaxRefFrames][MaxModeLfDeltas]uint8

// LoopFilterFrameInit derives the filter levels of every segment from the frame level, the
// segment feature and the reference and mode deltas.
func LoopFilterFrameInit(h *UncompressedHeader) (lvl LoopFilterLevels) {
	lf := &h.LoopFilter
	seg := &h.Segmentation
	for segID := range MaxSegments {
		lvlSeg := int(lf.Level)
		if seg.FeatureActive(segID, SegLvlAltL) {
			data := int(seg.FeatureData[segID][SegLvlAltL])
			if seg.AbsOrDeltaUpdate {
				lvlSeg = data
			} else {
				lvlSeg += data
			}
			lvlSeg = clip3(0, MaxLoopFilter, lvlSeg)
		}
		if lvlSeg == 0 {
			continue
		}

		if !lf.DeltaEnabled {
			for ref := range MaxRefFrames {
				for mode := range MaxModeLfDeltas {
					lvl[segID][ref][mode] = uint8(lvlSeg)
				}
			}
			continue
		}

		scale := 1 << (lvlSeg >> 5) //nolint:mnd
		intraLvl := lvlSeg + int(lf.RefDeltas[IntraFrame])*scale
		lvl[segID][IntraFrame][0] = uint8(clip3(0, MaxLoopFilter, intraLvl))
		for ref := LastFrame; ref < MaxRefFrames; ref++ {
			for mode := range MaxModeLfDeltas {
				interLvl := lvlSeg + int(lf.RefDeltas[ref])*scale + int(lf.ModeDeltas[mode])*scale
				lvl[segID][ref][mode] = uint8(clip3(0, MaxLoopFilter, interLvl))
			}
		}
	}
	return lvl
}
