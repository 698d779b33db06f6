package internal

// defaultFileHistoryLimit bounds how many uploads a room remembers.
const defaultFileHistoryLimit = 100

// fileHistory is a bounded FIFO of upload records. Callers hold the room lock.
type fileHistory struct {
	limit   int
	records []FileRecord
}

func newFileHistory(limit int) *fileHistory {
	if limit <= 0 {
		limit = defaultFileHistoryLimit
	}
	return &fileHistory{limit: limit}
}

// add appends rec and returns the records evicted from the front to stay
// within the limit, oldest first.
func (h *fileHistory) add(rec FileRecord) []FileRecord {
	h.records = append(h.records, rec)
	overflow := len(h.records) - h.limit
	if overflow <= 0 {
		return nil
	}
	evicted := make([]FileRecord, overflow)
	copy(evicted, h.records[:overflow])
	h.records = append(h.records[:0], h.records[overflow:]...)
	return evicted
}

func (h *fileHistory) find(id string) (FileRecord, bool) {
	for _, rec := range h.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return FileRecord{}, false
}

func (h *fileHistory) snapshot() []FileRecord {
	out := make([]FileRecord, len(h.records))
	copy(out, h.records)
	return out
}

// drain empties the history and returns what it held.
func (h *fileHistory) drain() []FileRecord {
	out := h.records
	h.records = nil
	return out
}
