package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/evanphx/minikern/pkg/slots"
)

const (
	MaxOpen = 10

	// MaxSkip bounds how far one Seek advances a stream.
	MaxSkip = 1 << 20
)

var (
	ErrNoSlot    = errors.New("random: no free slot")
	ErrUnknownID = errors.New("random: unknown id")
)

// Device hands out independent pseudo-random streams. The same seed
// always yields the same bytes.
type Device struct {
	streams *slots.Table[*rand.Rand]
}

func New() *Device {
	return &Device{
		streams: slots.New[*rand.Rand](MaxOpen),
	}
}

func (d *Device) Name() string {
	return "random"
}

// Seed resolves the open argument. An integer is used as is, any other
// string is hashed, and an empty argument draws from system entropy.
func Seed(arg string) (int64, error) {
	arg = strings.TrimSpace(arg)

	if arg == "" {
		var buf [8]byte
		if _, err := crand.Read(buf[:]); err != nil {
			return 0, errors.Wrap(err, "reading entropy")
		}

		return int64(binary.LittleEndian.Uint64(buf[:])), nil
	}

	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return n, nil
	}

	sum := blake2b.Sum256([]byte(arg))

	return int64(binary.LittleEndian.Uint64(sum[:8])), nil
}

// Open starts a stream. Beyond the optional integer seed, any other
// argument is accepted and hashed into a fixed seed rather than ignored.
func (d *Device) Open(arg string) (int, error) {
	seed, err := Seed(arg)
	if err != nil {
		return -1, err
	}

	id := d.streams.Alloc(rand.New(rand.NewSource(seed)))
	if id < 0 {
		return -1, ErrNoSlot
	}

	return id, nil
}

func (d *Device) Close(id int) error {
	if _, ok := d.streams.Release(id); !ok {
		return ErrUnknownID
	}

	return nil
}

func (d *Device) Read(id int, size int) ([]byte, error) {
	r, ok := d.streams.Get(id)
	if !ok {
		return nil, ErrUnknownID
	}

	if size <= 0 {
		return []byte{}, nil
	}

	out := make([]byte, size)
	for i := range out {
		out[i] = byte(r.Intn(256))
	}

	return out, nil
}

// Seek advances the stream by offset bytes, at most MaxSkip.
func (d *Device) Seek(id int, offset int64) error {
	r, ok := d.streams.Get(id)
	if !ok {
		return ErrUnknownID
	}

	if offset > MaxSkip {
		offset = MaxSkip
	}

	for i := int64(0); i < offset; i++ {
		r.Intn(256)
	}

	return nil
}

func (d *Device) Write(id int, data []byte) (int, error) {
	if !d.streams.Valid(id) {
		return 0, ErrUnknownID
	}

	return 0, nil
}
