package slots

// Table is a fixed set of numbered slots. Ids are the slot index, so a
// freed id is handed out again by the next Alloc.
type Table[T any] struct {
	used []bool
	vals []T
}

func New[T any](size int) *Table[T] {
	return &Table[T]{
		used: make([]bool, size),
		vals: make([]T, size),
	}
}

func (t *Table[T]) Cap() int {
	return len(t.used)
}

// Alloc stores v in the first free slot and returns its id, or -1 when
// every slot is taken.
func (t *Table[T]) Alloc(v T) int {
	for i, u := range t.used {
		if !u {
			t.used[i] = true
			t.vals[i] = v
			return i
		}
	}

	return -1
}

func (t *Table[T]) Valid(id int) bool {
	return id >= 0 && id < len(t.used) && t.used[id]
}

func (t *Table[T]) Get(id int) (T, bool) {
	if !t.Valid(id) {
		var zero T
		return zero, false
	}

	return t.vals[id], true
}

// Release frees the slot and returns what it held.
func (t *Table[T]) Release(id int) (T, bool) {
	v, ok := t.Get(id)
	if !ok {
		return v, false
	}

	var zero T
	t.used[id] = false
	t.vals[id] = zero

	return v, true
}

func (t *Table[T]) Len() int {
	n := 0
	for _, u := range t.used {
		if u {
			n++
		}
	}

	return n
}
