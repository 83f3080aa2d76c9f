package buffer

// PooledBuffer is a byte slice borrowed from the package pool. Frames and demuxed payloads hold
// one until their consumer is done with it.
type PooledBuffer interface {
	// Data returns the first Len bytes.
	Data() []byte

	Len() int
	Cap() int

	// Release hands the buffer back to the pool. It must not be touched afterwards.
	Release()

	// Resize sets the length, growing the backing array when needed.
	Resize(int)
}
