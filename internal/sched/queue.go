package sched

const none int32 = -1

// link is one slot of the node arena. A node sits in exactly one queue at a
// time, so a single prev/next pair is enough.
type link struct {
	node       *Node
	prev, next int32
}

// arena owns the links of every queued node. Slots are recycled through a
// free list so steady-state submission does not allocate.
type arena struct {
	links []link
	free  []int32
}

func (a *arena) alloc(n *Node) int32 {
	var i int32
	if k := len(a.free); k > 0 {
		i = a.free[k-1]
		a.free = a.free[:k-1]
	} else {
		i = int32(len(a.links))
		a.links = append(a.links, link{})
	}
	a.links[i] = link{node: n, prev: none, next: none}
	return i
}

func (a *arena) release(i int32) {
	a.links[i] = link{prev: none, next: none}
	a.free = append(a.free, i)
}

// queue is an intrusive doubly linked list of arena indices.
type queue struct {
	head, tail int32
	n          int
}

func newQueue() queue { return queue{head: none, tail: none} }

func (q *queue) len() int { return q.n }

func (q *queue) pushBack(a *arena, i int32) {
	a.links[i].prev = q.tail
	a.links[i].next = none
	if q.tail == none {
		q.head = i
	} else {
		a.links[q.tail].next = i
	}
	q.tail = i
	q.n++
}

func (q *queue) pushFront(a *arena, i int32) {
	a.links[i].prev = none
	a.links[i].next = q.head
	if q.head == none {
		q.tail = i
	} else {
		a.links[q.head].prev = i
	}
	q.head = i
	q.n++
}

func (q *queue) remove(a *arena, i int32) {
	l := &a.links[i]
	if l.prev == none {
		q.head = l.next
	} else {
		a.links[l.prev].next = l.next
	}
	if l.next == none {
		q.tail = l.prev
	} else {
		a.links[l.next].prev = l.prev
	}
	l.prev, l.next = none, none
	q.n--
}

// popFront unlinks the head and returns its index, or none when empty.
func (q *queue) popFront(a *arena) int32 {
	i := q.head
	if i != none {
		q.remove(a, i)
	}
	return i
}

// each visits the queue from head to tail.
func (q *queue) each(a *arena, fn func(*Node)) {
	for i := q.head; i != none; i = a.links[i].next {
		fn(a.links[i].node)
	}
}
