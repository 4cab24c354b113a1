package kernel

import "strconv"

type CallKind int

const (
	CallNone CallKind = iota
	CallCreateProcess
	CallSwitchProcess
	CallSleep
	CallGetPid
	CallExit
	CallOpen
	CallClose
	CallRead
	CallSeek
	CallWrite
	CallGetPidByName
	CallSendMessage
	CallWaitForMessage
	CallGetMapping
	CallAllocateMemory
	CallFreeMemory

	numCallKinds
)

var callNames = [...]string{
	CallNone:           "none",
	CallCreateProcess:  "create-process",
	CallSwitchProcess:  "switch-process",
	CallSleep:          "sleep",
	CallGetPid:         "get-pid",
	CallExit:           "exit",
	CallOpen:           "open",
	CallClose:          "close",
	CallRead:           "read",
	CallSeek:           "seek",
	CallWrite:          "write",
	CallGetPidByName:   "get-pid-by-name",
	CallSendMessage:    "send-message",
	CallWaitForMessage: "wait-for-message",
	CallGetMapping:     "get-mapping",
	CallAllocateMemory: "allocate-memory",
	CallFreeMemory:     "free-memory",
}

func (k CallKind) String() string {
	if k >= 0 && int(k) < len(callNames) {
		return callNames[k]
	}

	return "call-" + strconv.Itoa(int(k))
}

// Call is one request into the kernel. The caller owns it; the kernel
// fills in Ret/Out, resets Kind to CallNone and closes done.
type Call struct {
	Kind CallKind

	Program  Program
	Priority Priority
	Fd       int
	N        int
	Spec     string
	Data     []byte

	Ret int
	Out []byte

	done chan struct{}
}

// Done is closed once the kernel has completed the call.
func (c *Call) Done() <-chan struct{} {
	return c.done
}
