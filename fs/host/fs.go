package host

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/evanphx/minikern/log"
	"github.com/evanphx/minikern/pkg/slots"
)

const MaxOpen = 10

var (
	ErrEmptyPath = errors.New("host: path required")
	ErrNoSlot    = errors.New("host: no free slot")
	ErrUnknownID = errors.New("host: unknown id")
)

// HostFS exposes host files opened read/write. Relative paths are
// resolved against Root when it is set.
type HostFS struct {
	Root  string
	files *slots.Table[*os.File]
}

func NewHostFS(root string) *HostFS {
	return &HostFS{
		Root:  root,
		files: slots.New[*os.File](MaxOpen),
	}
}

func (h *HostFS) Name() string {
	return "file"
}

func (h *HostFS) path(arg string) string {
	if h.Root == "" || filepath.IsAbs(arg) {
		return arg
	}

	return filepath.Join(h.Root, arg)
}

func (h *HostFS) Open(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return -1, ErrEmptyPath
	}

	if h.files.Len() == h.files.Cap() {
		return -1, ErrNoSlot
	}

	path := h.path(arg)

	log.L.Trace("host-open", "path", path)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return -1, errors.Wrapf(err, "opening %s", path)
	}

	return h.files.Alloc(f), nil
}

func (h *HostFS) Close(id int) error {
	f, ok := h.files.Release(id)
	if !ok {
		return ErrUnknownID
	}

	return f.Close()
}

// Read returns up to size bytes, fewer at end of file.
func (h *HostFS) Read(id int, size int) ([]byte, error) {
	f, ok := h.files.Get(id)
	if !ok {
		return nil, ErrUnknownID
	}

	if size <= 0 {
		return []byte{}, nil
	}

	buf := make([]byte, size)

	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrapf(err, "reading %s", f.Name())
	}

	return buf[:n], nil
}

// Seek moves to an absolute offset, clamped at zero.
func (h *HostFS) Seek(id int, offset int64) error {
	f, ok := h.files.Get(id)
	if !ok {
		return ErrUnknownID
	}

	if offset < 0 {
		offset = 0
	}

	_, err := f.Seek(offset, io.SeekStart)
	return err
}

func (h *HostFS) Write(id int, data []byte) (int, error) {
	f, ok := h.files.Get(id)
	if !ok {
		return 0, ErrUnknownID
	}

	if len(data) == 0 {
		return 0, nil
	}

	n, err := f.Write(data)
	if err != nil {
		return n, errors.Wrapf(err, "writing %s", f.Name())
	}

	return n, nil
}
