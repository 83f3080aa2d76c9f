package decoder

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/backend"
	"github.com/ugparu/vdec/interop"
	"github.com/ugparu/vdec/parser"
	"github.com/ugparu/vdec/utils/logger"
)

// Session binds a decode engine to the interop mappings of its surfaces. It is used from one
// goroutine at a time.
type Session struct {
	id      uuid.UUID
	engine  backend.Decoder
	interop *interop.Pool
	info    backend.CreateInfo
	broken  error
	closed  bool
}

// NewSession initializes engine with info. A nil importer maps surfaces into host memory.
func NewSession(engine backend.Decoder, importer interop.Importer, info *backend.CreateInfo) (*Session, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil decode engine", vdec.ErrInvalidParameter)
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:      uuid.New(),
		engine:  engine,
		interop: interop.NewPool(importer, info.NumDecodeSurfaces),
		info:    *info,
	}
	if err := engine.Initialize(info); err != nil {
		return nil, errors.Join(wrapRuntime(err), engine.Close())
	}
	logger.Infof(s, "Created %s", info)
	return s, nil
}

func wrapRuntime(err error) error {
	if errors.Is(err, vdec.ErrInvalidParameter) || errors.Is(err, vdec.ErrRuntime) ||
		errors.Is(err, vdec.ErrNotImplemented) {
		return err
	}
	return errors.Join(vdec.ErrRuntime, err)
}

func (s *Session) usable() error {
	if s.closed {
		return fmt.Errorf("%w: session closed", vdec.ErrInvalidParameter)
	}
	if s.broken != nil {
		return fmt.Errorf("%w: session unusable after %v", vdec.ErrRuntime, s.broken)
	}
	return nil
}

func (s *Session) checkIndex(picIdx int) error {
	if picIdx < 0 || picIdx >= s.info.NumDecodeSurfaces {
		return fmt.Errorf("%w: picture %d outside [0, %d)", vdec.ErrInvalidParameter, picIdx, s.info.NumDecodeSurfaces)
	}
	return nil
}

// fail records a backend failure. The session refuses work until it is reconfigured.
func (s *Session) fail(err error) error {
	err = wrapRuntime(err)
	if !errors.Is(err, vdec.ErrInvalidParameter) {
		s.broken = err
	}
	return err
}

// Info returns the current surface configuration.
func (s *Session) Info() backend.CreateInfo {
	return s.info
}

// Interop returns the mapping pool.
func (s *Session) Interop() *interop.Pool {
	return s.interop
}

// DecodeFrame submits a picture to the engine.
func (s *Session) DecodeFrame(params *parser.PicParams) error {
	if err := s.usable(); err != nil {
		return err
	}
	if params == nil {
		return fmt.Errorf("%w: nil picture params", vdec.ErrInvalidParameter)
	}
	if err := s.checkIndex(params.CurrPicIdx); err != nil {
		return err
	}
	if err := s.engine.SubmitDecode(params); err != nil {
		return s.fail(err)
	}
	return nil
}

// GetDecodeStatus polls the state of a surface.
func (s *Session) GetDecodeStatus(picIdx int) (parser.DecodeStatus, error) {
	if err := s.usable(); err != nil {
		return parser.DecodeStatusInvalid, err
	}
	if err := s.checkIndex(picIdx); err != nil {
		return parser.DecodeStatusInvalid, err
	}
	st, err := s.engine.GetDecodeStatus(picIdx)
	if err != nil {
		return parser.DecodeStatusInvalid, s.fail(err)
	}
	return st, nil
}

// SyncPicture waits for the decode into a surface.
func (s *Session) SyncPicture(picIdx int) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.checkIndex(picIdx); err != nil {
		return err
	}
	if err := s.engine.SyncSurface(picIdx); err != nil {
		return s.fail(err)
	}
	return nil
}

// GetVideoFrame waits for a surface and returns its mapping. The surface is exported and imported
// on the first call only; later calls return views of the same mapping.
func (s *Session) GetVideoFrame(picIdx int) (*interop.VideoFrame, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if err := s.checkIndex(picIdx); err != nil {
		return nil, err
	}
	if err := s.engine.SyncSurface(picIdx); err != nil {
		return nil, s.fail(err)
	}
	vf, err := s.interop.Map(picIdx, func() (*backend.SurfaceDescriptor, error) {
		return s.engine.ExportSurface(picIdx)
	})
	if err != nil {
		return nil, s.fail(err)
	}
	return vf, nil
}

// FreeVideoFrame releases the mapping of a surface. Freeing an unmapped surface is a no-op.
func (s *Session) FreeVideoFrame(picIdx int) error {
	if err := s.checkIndex(picIdx); err != nil {
		return err
	}
	if err := s.interop.Free(picIdx); err != nil {
		return s.fail(err)
	}
	return nil
}

// Reconfigure frees every mapping and then resizes the engine surfaces. A successful
// reconfiguration makes a broken session usable again.
func (s *Session) Reconfigure(info *backend.CreateInfo) error {
	if s.closed {
		return fmt.Errorf("%w: session closed", vdec.ErrInvalidParameter)
	}
	if err := info.Validate(); err != nil {
		return err
	}
	if err := s.interop.FreeAll(); err != nil {
		return s.fail(err)
	}
	if err := s.engine.Reconfigure(info); err != nil {
		return s.fail(err)
	}
	if err := s.interop.Reset(info.NumDecodeSurfaces); err != nil {
		return s.fail(err)
	}
	logger.Infof(s, "Reconfigured from %s to %s", &s.info, info)
	s.info = *info
	s.broken = nil
	return nil
}

// Close frees every mapping and the engine.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.interop.FreeAll(), s.engine.Close())
}

func (s *Session) String() string {
	return fmt.Sprintf("SESSION id=%s", s.id.String()[:8])
}
