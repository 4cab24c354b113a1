package kernel

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"
)

type handler func(ctx context.Context, l hclog.Logger, k *Kernel, c *Call)

// calls is indexed by CallKind. A nil entry is acknowledged as a no-op.
var calls [numCallKinds]handler
