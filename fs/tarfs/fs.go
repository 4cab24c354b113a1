package tarfs

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/evanphx/minikern/log"
	"github.com/evanphx/minikern/pkg/slots"
)

const (
	MaxOpen = 10

	// archives kept parsed between opens
	cachedArchives = 4
)

var (
	ErrBadArg        = errors.New("tar: want \"<archive> <member>\"")
	ErrUnknownMember = errors.New("tar: no such member")
	ErrNoSlot        = errors.New("tar: no free slot")
	ErrUnknownID     = errors.New("tar: unknown id")
	ErrReadOnly      = errors.New("tar: read only")
)

type archive struct {
	modTime time.Time
	members map[string][]byte
}

// TarFS serves the regular files of tar archives on the host, read only.
// An open names the archive and then the member, "site.tar docs/a.txt".
type TarFS struct {
	Root string

	archives *lru.Cache
	open     *slots.Table[*bytes.Reader]
}

func NewTarFS(root string) (*TarFS, error) {
	cache, err := lru.New(cachedArchives)
	if err != nil {
		return nil, err
	}

	return &TarFS{
		Root:     root,
		archives: cache,
		open:     slots.New[*bytes.Reader](MaxOpen),
	}, nil
}

func (t *TarFS) Name() string {
	return "tar"
}

func cleanName(name string) string {
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	return name
}

func readArchive(r io.Reader) (map[string][]byte, error) {
	tr := tar.NewReader(r)

	members := make(map[string][]byte)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, err
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		if log.L.IsTrace() {
			log.L.Trace("tar-member", "header", spew.Sdump(hdr))
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}

		members[cleanName(hdr.Name)] = data
	}

	return members, nil
}

func (t *TarFS) path(arg string) string {
	if t.Root == "" || filepath.IsAbs(arg) {
		return arg
	}

	return filepath.Join(t.Root, arg)
}

// load parses the archive at path, reusing the cached copy while the
// file is unchanged.
func (t *TarFS) load(path string) (*archive, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "archive %s", path)
	}

	if v, ok := t.archives.Get(path); ok {
		if a := v.(*archive); a.modTime.Equal(fi.ModTime()) {
			return a, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "archive %s", path)
	}

	defer f.Close()

	members, err := readArchive(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading archive %s", path)
	}

	a := &archive{modTime: fi.ModTime(), members: members}
	t.archives.Add(path, a)

	return a, nil
}

func (t *TarFS) Open(arg string) (int, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return -1, ErrBadArg
	}

	if t.open.Len() == t.open.Cap() {
		return -1, ErrNoSlot
	}

	a, err := t.load(t.path(fields[0]))
	if err != nil {
		return -1, err
	}

	body, ok := a.members[cleanName(fields[1])]
	if !ok {
		return -1, errors.Wrapf(ErrUnknownMember, "member: %s", fields[1])
	}

	return t.open.Alloc(bytes.NewReader(body)), nil
}

func (t *TarFS) Close(id int) error {
	if _, ok := t.open.Release(id); !ok {
		return ErrUnknownID
	}

	return nil
}

func (t *TarFS) Read(id int, size int) ([]byte, error) {
	r, ok := t.open.Get(id)
	if !ok {
		return nil, ErrUnknownID
	}

	if size <= 0 {
		return []byte{}, nil
	}

	buf := make([]byte, size)

	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}

	return buf[:n], nil
}

func (t *TarFS) Seek(id int, offset int64) error {
	r, ok := t.open.Get(id)
	if !ok {
		return ErrUnknownID
	}

	if offset < 0 {
		offset = 0
	}

	_, err := r.Seek(offset, io.SeekStart)
	return err
}

func (t *TarFS) Write(id int, data []byte) (int, error) {
	if !t.open.Valid(id) {
		return 0, ErrUnknownID
	}

	return 0, ErrReadOnly
}
