package fs

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/evanphx/minikern/log"
	"github.com/evanphx/minikern/pkg/slots"
)

const (
	// MaxOpen is the number of VFS descriptors open at once, system wide.
	MaxOpen = 10

	// MaxRead bounds a single read; larger requests come back short.
	MaxRead = 64 << 10
)

var (
	ErrBadSpec       = errors.New("malformed device spec")
	ErrUnknownDevice = errors.New("unknown device")
	ErrNoSlot        = errors.New("no free descriptor")
	ErrBadDescriptor = errors.New("bad descriptor")
)

// Device is a backend the VFS routes to. Ids are local to the device.
type Device interface {
	Name() string
	Open(arg string) (int, error)
	Close(id int) error
	Read(id int, size int) ([]byte, error)
	Seek(id int, offset int64) error
	Write(id int, data []byte) (int, error)
}

type handle struct {
	dev   Device
	inner int
}

// VFS maps a descriptor to a (device, device-local id) pair. It is not
// safe for concurrent use; the kernel serialises access.
type VFS struct {
	devices map[string]Device
	open    *slots.Table[handle]
}

func NewVFS(devices ...Device) *VFS {
	v := &VFS{
		devices: make(map[string]Device),
		open:    slots.New[handle](MaxOpen),
	}

	for _, d := range devices {
		v.Register(d)
	}

	return v
}

func (v *VFS) Register(d Device) {
	v.devices[strings.ToLower(d.Name())] = d
}

// ParseSpec splits "<device> <arg>" on the first run of whitespace.
func ParseSpec(spec string) (string, string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", ErrBadSpec
	}

	name, arg := spec, ""
	if i := strings.IndexAny(spec, " \t\r\n"); i >= 0 {
		name, arg = spec[:i], strings.TrimSpace(spec[i:])
	}

	return strings.ToLower(name), arg, nil
}

func (v *VFS) Open(spec string) (int, error) {
	name, arg, err := ParseSpec(spec)
	if err != nil {
		return -1, errors.Wrapf(err, "spec: %q", spec)
	}

	dev, ok := v.devices[name]
	if !ok {
		return -1, errors.Wrapf(ErrUnknownDevice, "device: %s", name)
	}

	inner, err := dev.Open(arg)
	if err != nil {
		return -1, errors.Wrapf(err, "open %s", spec)
	}

	id := v.open.Alloc(handle{dev: dev, inner: inner})
	if id < 0 {
		if err := dev.Close(inner); err != nil {
			log.L.Debug("vfs-close-after-full", "device", name, "id", inner, "error", err)
		}

		return -1, ErrNoSlot
	}

	log.L.Trace("vfs-open", "spec", spec, "id", id, "inner", inner)

	return id, nil
}

// Close always frees the descriptor, even when the device fails to.
func (v *VFS) Close(id int) error {
	h, ok := v.open.Release(id)
	if !ok {
		return ErrBadDescriptor
	}

	return h.dev.Close(h.inner)
}

func (v *VFS) Read(id, size int) ([]byte, error) {
	h, ok := v.open.Get(id)
	if !ok {
		return nil, ErrBadDescriptor
	}

	if size > MaxRead {
		size = MaxRead
	}

	return h.dev.Read(h.inner, size)
}

func (v *VFS) Seek(id int, offset int64) error {
	h, ok := v.open.Get(id)
	if !ok {
		return ErrBadDescriptor
	}

	return h.dev.Seek(h.inner, offset)
}

func (v *VFS) Write(id int, data []byte) (int, error) {
	h, ok := v.open.Get(id)
	if !ok {
		return 0, ErrBadDescriptor
	}

	return h.dev.Write(h.inner, data)
}

func (v *VFS) Valid(id int) bool {
	return v.open.Valid(id)
}

// OpenCount is the number of live descriptors.
func (v *VFS) OpenCount() int {
	return v.open.Len()
}
