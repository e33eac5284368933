package queue

import (
	"sync"
)

// Queue is a mutex guarded FIFO of outgoing messages.
type Queue struct {
	elements []Message
	mutex    sync.Mutex
}

// Enqueue adds an element to the end of the queue
func (q *Queue) Enqueue(element Message) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.elements = append(q.elements, element)
}

// Dequeue removes and returns the first element of the queue
func (q *Queue) Dequeue() (Message, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.elements) == 0 {
		return Message{}, false
	}
	element := q.elements[0]
	q.elements = q.elements[1:]
	return element, true
}

// Peek returns the first element of the queue without removing it
func (q *Queue) Peek() (Message, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.elements) == 0 {
		return Message{}, false
	}
	return q.elements[0], true
}

// IsEmpty checks if the queue is empty
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the current number of items in the queue
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.elements)
}

// Clear removes all items from the queue and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	n := len(q.elements)
	q.elements = nil
	return n
}
