// Package sdp reads and writes the session descriptions that announce RTP video streams.
package sdp

import (
	"strconv"
	"strings"

	"github.com/ugparu/vdec"
)

// Session represents the information related to an SDP session.
type Session struct {
	URI string
}

// Media represents one media description of an SDP session.
type Media struct {
	AVType      string
	Codec       vdec.CodecType
	PayloadType uint8
	ClockRate   uint32
	Control     string
	FPS         int
	ProfileID   int
	Width       int
	Height      int
}

// parseMediaDescription parses the media description line. The first format of the line is
// taken as the payload type until an rtpmap names a supported codec.
func parseMediaDescription(fields []string) (*Media, bool) {
	if len(fields) < 2 { //nolint:mnd
		return nil, false
	}

	switch fields[0] {
	case "audio", "video":
		media := Media{AVType: fields[0]}
		mfields := strings.Fields(fields[1])
		if len(mfields) >= 3 { //nolint:mnd
			if pt, err := strconv.ParseUint(mfields[2], 10, 7); err == nil {
				media.PayloadType = uint8(pt)
			}
		}
		return &media, true
	default:
		return nil, false
	}
}

// parsePayloadType splits "<pt> <rest>".
func parsePayloadType(val string) (uint8, string, bool) {
	ptval := strings.SplitN(val, " ", 2) //nolint:mnd
	if len(ptval) != 2 {                 //nolint:mnd
		return 0, "", false
	}
	pt, err := strconv.ParseUint(ptval[0], 10, 7)
	if err != nil {
		return 0, "", false
	}
	return uint8(pt), strings.TrimSpace(ptval[1]), true
}

// parseRtpmap handles "<pt> <encoding>/<clock rate>[/<channels>]". The first supported codec of
// a media wins.
func parseRtpmap(media *Media, val string) {
	pt, rest, ok := parsePayloadType(val)
	if !ok || media.Codec != 0 {
		return
	}
	keyval := strings.Split(rest, "/")
	codec, ok := vdec.ParseCodecType(strings.ToUpper(keyval[0]))
	if !ok {
		return
	}
	media.Codec = codec
	media.PayloadType = pt
	if len(keyval) > 1 {
		if rate, err := strconv.ParseUint(keyval[1], 10, 32); err == nil {
			media.ClockRate = uint32(rate)
		}
	}
}

// parseFmtp processes the semicolon separated key=value list of the selected payload type.
func parseFmtp(media *Media, val string) {
	pt, rest, ok := parsePayloadType(val)
	if !ok || pt != media.PayloadType {
		return
	}
	for _, subfield := range strings.Split(rest, ";") {
		subKeyVal := strings.SplitN(subfield, "=", 2) //nolint:mnd
		if len(subKeyVal) != 2 {                      //nolint:mnd
			continue
		}
		val := strings.TrimSpace(subKeyVal[1])
		switch strings.TrimSpace(subKeyVal[0]) {
		case "profile-id":
			media.ProfileID, _ = strconv.Atoi(val)
		case "max-fr":
			if media.FPS == 0 {
				media.FPS, _ = strconv.Atoi(val)
			}
		}
	}
}

// parseFramesize handles "<pt> <width>-<height>".
func parseFramesize(media *Media, val string) {
	pt, rest, ok := parsePayloadType(val)
	if !ok || pt != media.PayloadType {
		return
	}
	wh := strings.SplitN(rest, "-", 2) //nolint:mnd
	if len(wh) != 2 {                  //nolint:mnd
		return
	}
	media.Width, _ = strconv.Atoi(wh[0])
	media.Height, _ = strconv.Atoi(wh[1])
}

func parseAttribute(media *Media, attr string) {
	keyval := strings.SplitN(attr, ":", 2) //nolint:mnd
	if len(keyval) != 2 {                  //nolint:mnd
		return
	}
	key, val := keyval[0], strings.TrimSpace(keyval[1])
	switch key {
	case "control":
		media.Control = val
	case "rtpmap":
		parseRtpmap(media, val)
	case "fmtp":
		parseFmtp(media, val)
	case "framesize":
		parseFramesize(media, val)
	case "framerate", "x-framerate":
		if fps, err := strconv.ParseFloat(strings.ReplaceAll(val, " ", ""), 64); err == nil {
			media.FPS = int(fps + 0.5) //nolint:mnd
		}
	}
}

// Parse parses the SDP content and returns Session and Media information.
func Parse(content string) (sess Session, medias []Media) {
	var media *Media

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		typeval := strings.SplitN(line, "=", 2) //nolint:mnd
		if len(typeval) != 2 {                  //nolint:mnd
			continue
		}

		switch typeval[0] {
		case "m":
			newMedia, valid := parseMediaDescription(strings.SplitN(typeval[1], " ", 2)) //nolint:mnd
			if valid {
				medias = append(medias, *newMedia)
				media = &medias[len(medias)-1]
			} else {
				media = nil
			}
		case "u":
			sess.URI = typeval[1]
		case "a":
			if media != nil {
				parseAttribute(media, typeval[1])
			}
		}
	}
	return
}

// Find returns the first media carrying codec.
func Find(medias []Media, codec vdec.CodecType) (Media, bool) {
	for _, m := range medias {
		if m.Codec == codec {
			return m, true
		}
	}
	return Media{}, false
}
