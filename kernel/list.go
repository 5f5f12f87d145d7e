package kernel

// taskList is a singly linked queue threaded through the next links of the
// task table. A task is in at most one list, and its link is NoTask whenever
// it is in none.
type taskList struct {
	head TaskID
	tail TaskID
}

func emptyList() taskList {
	return taskList{head: NoTask, tail: NoTask}
}

func (l *taskList) empty() bool { return l.head == NoTask }

func (l *taskList) append(tab *[MaxTasks]Task, id TaskID) {
	tab[id].next = NoTask
	if l.tail == NoTask {
		l.head, l.tail = id, id
		return
	}
	tab[l.tail].next = id
	l.tail = id
}

func (l *taskList) prepend(tab *[MaxTasks]Task, id TaskID) {
	tab[id].next = l.head
	l.head = id
	if l.tail == NoTask {
		l.tail = id
	}
}

func (l *taskList) dequeue(tab *[MaxTasks]Task) TaskID {
	id := l.head
	if id == NoTask {
		return NoTask
	}
	l.head = tab[id].next
	if l.head == NoTask {
		l.tail = NoTask
	}
	tab[id].next = NoTask
	return id
}

// unlist removes id from anywhere in the list and reports whether it was
// there.
func (l *taskList) unlist(tab *[MaxTasks]Task, id TaskID) bool {
	prev := NoTask
	for cur := l.head; cur != NoTask; prev, cur = cur, tab[cur].next {
		if cur != id {
			continue
		}
		if prev == NoTask {
			l.head = tab[cur].next
		} else {
			tab[prev].next = tab[cur].next
		}
		if l.tail == cur {
			l.tail = prev
		}
		tab[cur].next = NoTask
		return true
	}
	return false
}

// members walks the list from head to tail. It stops after MaxTasks steps so
// a corrupted cycle cannot hang the caller.
func (l *taskList) members(tab *[MaxTasks]Task) []TaskID {
	var ids []TaskID
	for cur := l.head; cur != NoTask && len(ids) <= MaxTasks; cur = tab[cur].next {
		ids = append(ids, cur)
	}
	return ids
}
