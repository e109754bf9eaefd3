package cache

import (
	"sync"

	"gitlab.com/cincan/cincan-registry/internal/models"
)

// WriteQueue collects tool updates from concurrent checker workers and lands
// them in a single transaction. Workers only enqueue; the one goroutine that
// owns the queue drains it, so the store sees exactly one writer.
type WriteQueue struct {
	mu      sync.Mutex
	pending map[string]*models.ToolInfo
}

// NewWriteQueue creates an empty queue.
func NewWriteQueue() *WriteQueue {
	return &WriteQueue{pending: make(map[string]*models.ToolInfo)}
}

// Enqueue stages a tool for the next drain. A later enqueue of the same tool
// replaces the earlier one.
func (q *WriteQueue) Enqueue(tool *models.ToolInfo) {
	if tool == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[tool.Name()] = tool
}

// Len returns the number of staged tools.
func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain writes every staged tool in one transaction and empties the queue.
// On failure the batch stays queued for a retry.
func (q *WriteQueue) Drain(store *Store) error {
	q.mu.Lock()
	tools := make([]*models.ToolInfo, 0, len(q.pending))
	for _, tool := range q.pending {
		tools = append(tools, tool)
	}
	q.mu.Unlock()

	if len(tools) == 0 {
		return nil
	}
	if err := store.WriteTools(tools); err != nil {
		return err
	}

	q.mu.Lock()
	for _, tool := range tools {
		// A tool re-enqueued mid-drain stays queued for the next round.
		if q.pending[tool.Name()] == tool {
			delete(q.pending, tool.Name())
		}
	}
	q.mu.Unlock()
	return nil
}
