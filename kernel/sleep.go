package kernel

import (
	"container/heap"
	"time"
)

type sleeper struct {
	pcb    *PCB
	wakeAt time.Time
	seq    uint64
}

// sleepSet is a min-heap on wake time. Equal wake times keep insertion
// order.
type sleepSet []sleeper

func (s sleepSet) Len() int { return len(s) }

func (s sleepSet) Less(i, j int) bool {
	if s[i].wakeAt.Equal(s[j].wakeAt) {
		return s[i].seq < s[j].seq
	}

	return s[i].wakeAt.Before(s[j].wakeAt)
}

func (s sleepSet) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s *sleepSet) Push(x interface{}) {
	*s = append(*s, x.(sleeper))
}

func (s *sleepSet) Pop() interface{} {
	old := *s
	n := len(old)
	x := old[n-1]
	old[n-1] = sleeper{}
	*s = old[:n-1]
	return x
}

func (s *sleepSet) add(e sleeper) {
	heap.Push(s, e)
}

func (s sleepSet) peek() (sleeper, bool) {
	if len(s) == 0 {
		return sleeper{}, false
	}

	return s[0], true
}

func (s *sleepSet) pop() sleeper {
	return heap.Pop(s).(sleeper)
}
