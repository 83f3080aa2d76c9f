package interop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Memory is an imported memory object.
type Memory interface {
	Bytes() []byte
	Close() error
}

// Importer maps an exported memory object into the address space of the caller. The importer
// does not take ownership of fd.
type Importer interface {
	Import(fd int, size int) (Memory, error)
}

// HostImporter maps exported objects with mmap. It stands in for a GPU runtime importing
// dma-buf handles as device memory.
type HostImporter struct{}

// Import maps size bytes of fd read only.
func (HostImporter) Import(fd int, size int) (Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("import of %d bytes", size)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap fd %d: %w", fd, err)
	}
	return &hostMemory{mem: mem}, nil
}

type hostMemory struct {
	mem []byte
}

func (m *hostMemory) Bytes() []byte {
	return m.mem
}

func (m *hostMemory) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}
