package fs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

// memDevice counts opens and closes and echoes writes back on read.
type memDevice struct {
	next   int
	open   map[int][]byte
	closed []int
	fail   bool
}

func newMemDevice() *memDevice {
	return &memDevice{open: map[int][]byte{}}
}

func (m *memDevice) Name() string { return "Mem" }

func (m *memDevice) Open(arg string) (int, error) {
	if m.fail {
		return -1, errors.New("device refused")
	}

	id := m.next
	m.next++
	m.open[id] = []byte(arg)

	return id, nil
}

func (m *memDevice) Close(id int) error {
	if _, ok := m.open[id]; !ok {
		return errors.New("not open")
	}

	delete(m.open, id)
	m.closed = append(m.closed, id)

	return nil
}

func (m *memDevice) Read(id int, size int) ([]byte, error) {
	data := m.open[id]
	if size < len(data) {
		data = data[:size]
	}

	return data, nil
}

func (m *memDevice) Seek(id int, offset int64) error {
	return nil
}

func (m *memDevice) Write(id int, data []byte) (int, error) {
	m.open[id] = append(m.open[id], data...)
	return len(data), nil
}

func TestParseSpec(t *testing.T) {
	cases := []struct {
		spec, name, arg string
	}{
		{"file /tmp/x", "file", "/tmp/x"},
		{"random", "random", ""},
		{"  Random   42 ", "random", "42"},
		{"file\tname with spaces", "file", "name with spaces"},
	}

	for _, c := range cases {
		name, arg, err := ParseSpec(c.spec)
		require.NoError(t, err, c.spec)
		assert.Equal(t, c.name, name, c.spec)
		assert.Equal(t, c.arg, arg, c.spec)
	}

	_, _, err := ParseSpec("   ")
	require.Equal(t, ErrBadSpec, err)
}

func TestVFS(t *testing.T) {
	n := neko.Modern(t)

	n.It("routes to a device by name", func(t *testing.T) {
		dev := newMemDevice()
		v := NewVFS(dev)

		id, err := v.Open("mem abc")
		require.NoError(t, err)
		require.True(t, v.Valid(id))

		written, err := v.Write(id, []byte("def"))
		require.NoError(t, err)
		require.Equal(t, 3, written)

		data, err := v.Read(id, 4)
		require.NoError(t, err)
		require.Equal(t, "abcd", string(data))

		require.NoError(t, v.Seek(id, 0))

		require.NoError(t, v.Close(id))
		require.False(t, v.Valid(id))
		require.Equal(t, []int{0}, dev.closed)
	})

	n.It("reports an unknown device", func(t *testing.T) {
		v := NewVFS(newMemDevice())

		id, err := v.Open("tape 0")
		require.Equal(t, -1, id)
		require.Equal(t, ErrUnknownDevice, errors.Cause(err))
		require.Equal(t, 0, v.OpenCount())
	})

	n.It("passes device errors through", func(t *testing.T) {
		dev := newMemDevice()
		dev.fail = true

		v := NewVFS(dev)

		_, err := v.Open("mem x")
		require.Error(t, err)
		require.Equal(t, 0, v.OpenCount())
	})

	n.It("closes the device handle when the table is full", func(t *testing.T) {
		dev := newMemDevice()
		v := NewVFS(dev)

		for i := 0; i < MaxOpen; i++ {
			id, err := v.Open("mem x")
			require.NoError(t, err)
			require.Equal(t, i, id)
		}

		id, err := v.Open("mem overflow")
		require.Equal(t, -1, id)
		require.Equal(t, ErrNoSlot, err)

		require.Equal(t, []int{MaxOpen}, dev.closed)
		require.Len(t, dev.open, MaxOpen)
		require.Equal(t, MaxOpen, v.OpenCount())

		require.NoError(t, v.Close(4))

		id, err = v.Open("mem again")
		require.NoError(t, err)
		require.Equal(t, 4, id)
	})

	n.It("rejects bad descriptors", func(t *testing.T) {
		v := NewVFS(newMemDevice())

		for _, id := range []int{-1, 0, MaxOpen, 99} {
			_, err := v.Read(id, 1)
			require.Equal(t, ErrBadDescriptor, err)

			_, err = v.Write(id, []byte("x"))
			require.Equal(t, ErrBadDescriptor, err)

			require.Equal(t, ErrBadDescriptor, v.Seek(id, 0))
			require.Equal(t, ErrBadDescriptor, v.Close(id))
		}
	})

	n.Meow()
}
