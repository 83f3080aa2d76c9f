package sdp

import (
	"fmt"
	"strings"

	"github.com/ugparu/vdec"
)

const (
	defaultClockRate   = 90000
	dynamicPayloadType = 96
)

// Generate builds an SDP announcing the given media. Parse reads it back.
func Generate(sess Session, medias []Media) string {
	lines := make([]string, 0, 8+len(medias)*6) //nolint:mnd

	lines = append(lines,
		"v=0",
		"o=- 0 0 IN IP4 127.0.0.1",
		"s=vdec",
		"t=0 0",
	)
	if sess.URI != "" {
		lines = append(lines, "u="+sess.URI)
	}
	lines = append(lines, "a=control:*")

	for i, m := range medias {
		lines = append(lines, marshalMedia(m, i)...)
	}

	// RTSP bodies conventionally use CRLF.
	return strings.Join(lines, "\r\n") + "\r\n"
}

func marshalMedia(m Media, idx int) []string {
	av := m.AVType
	if av == "" {
		av = "video"
	}
	pt := m.PayloadType
	if pt == 0 {
		pt = dynamicPayloadType + uint8(idx) //nolint:gosec // a handful of media
	}
	rate := m.ClockRate
	if rate == 0 {
		rate = defaultClockRate
	}

	lines := []string{fmt.Sprintf("m=%s 0 RTP/AVP %d", av, pt)}
	if m.Codec != 0 {
		lines = append(lines, fmt.Sprintf("a=rtpmap:%d %s/%d", pt, m.Codec, rate))
	}
	if m.Codec == vdec.VP9 {
		lines = append(lines, fmt.Sprintf("a=fmtp:%d profile-id=%d", pt, m.ProfileID))
	}
	if m.Width > 0 && m.Height > 0 {
		lines = append(lines, fmt.Sprintf("a=framesize:%d %d-%d", pt, m.Width, m.Height))
	}
	if m.FPS > 0 {
		lines = append(lines, fmt.Sprintf("a=framerate:%d", m.FPS))
	}
	control := m.Control
	if control == "" {
		control = fmt.Sprintf("trackID=%d", idx)
	}
	return append(lines, "a=control:"+control)
}
