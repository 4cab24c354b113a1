package log

import (
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

var L hclog.Logger

func init() {
	L = New(os.Stderr)

	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}

// New builds the logger used across the kernel. Tests swap L for one
// writing into a buffer.
func New(w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "minikern",
		Level:  hclog.Info,
		Output: w,
	})
}
