package decoder

import (
	"fmt"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/codec/vp9"
	"github.com/ugparu/vdec/parser"
)

// CreateParser returns an initialized parser for params.Codec.
func CreateParser(params *parser.Params) (parser.VideoParser, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil parser params", vdec.ErrInvalidParameter)
	}
	switch params.Codec {
	case vdec.VP9:
		p := vp9.New()
		if err := p.Initialize(params); err != nil {
			return nil, err
		}
		return p, nil
	case vdec.H264, vdec.H265, vdec.AV1:
		return nil, fmt.Errorf("%w: %s parser", vdec.ErrNotImplemented, params.Codec)
	default:
		return nil, fmt.Errorf("%w: %s", vdec.ErrUnsupportedCodec, params.Codec)
	}
}
