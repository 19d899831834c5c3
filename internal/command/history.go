package command

import "sync"

// maxHistoryEntries bounds the history between hourly prunes. When full the
// oldest entry is evicted, which only costs edit-in-place for a command
// older than the newest 512.
const maxHistoryEntries = 512

// history remembers which bot message answered which command message, in
// insertion order. It backs the edit-and-replay flow: replies to an
// already-answered command edit the previous response, and deleting the
// command deletes the response.
type history struct {
	mu      sync.Mutex
	order   []string
	entries map[string]string
}

func newHistory() *history {
	return &history{entries: make(map[string]string)}
}

func (h *history) response(commandID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	responseID, ok := h.entries[commandID]
	return responseID, ok
}

func (h *history) record(commandID, responseID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.entries[commandID]; exists {
		h.entries[commandID] = responseID
		return
	}
	h.entries[commandID] = responseID
	h.order = append(h.order, commandID)
	for len(h.order) > maxHistoryEntries {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.entries, oldest)
	}
}

func (h *history) remove(commandID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	responseID, ok := h.entries[commandID]
	if !ok {
		return "", false
	}
	delete(h.entries, commandID)
	for i, id := range h.order {
		if id == commandID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return responseID, true
}

// prune drops everything except the most recent entry, so an edit of the
// latest command still works after the hourly sweep. Returns the number of
// entries dropped.
func (h *history) prune() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.order) <= 1 {
		return 0
	}
	dropped := len(h.order) - 1
	for _, id := range h.order[:dropped] {
		delete(h.entries, id)
	}
	h.order = h.order[dropped:]
	return dropped
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}
