package marlin

// Queue holds commands that have not been sent yet.
//
// Priority commands are always returned before normal ones; each class is
// FIFO. Queue is not safe for concurrent use, the Engine guards it.
type Queue struct {
	priority []*Command
	normal   []*Command
}

// Push adds cmd behind every queued command of the same class.
func (q *Queue) Push(cmd *Command) {
	if cmd.Priority {
		q.priority = append(q.priority, cmd)
		return
	}
	q.normal = append(q.normal, cmd)
}

// Next removes and returns the front command, or nil if the queue is empty.
func (q *Queue) Next() *Command {
	if len(q.priority) > 0 {
		cmd := q.priority[0]
		q.priority[0] = nil
		q.priority = q.priority[1:]
		return cmd
	}
	if len(q.normal) > 0 {
		cmd := q.normal[0]
		q.normal[0] = nil
		q.normal = q.normal[1:]
		return cmd
	}
	return nil
}

func (q *Queue) Len() int { return len(q.priority) + len(q.normal) }

func (q *Queue) Busy() bool { return q.Len() > 0 }

// Drain empties the queue, returning everything in send order.
func (q *Queue) Drain() []*Command {
	res := make([]*Command, 0, q.Len())
	for cmd := q.Next(); cmd != nil; cmd = q.Next() {
		res = append(res, cmd)
	}
	return res
}
