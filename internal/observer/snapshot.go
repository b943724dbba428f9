package observer

import (
	"sort"
	"time"

	"fieldsync/internal/daemon"
	"fieldsync/internal/ipc"
	"fieldsync/internal/queue"
)

// Snapshot is one consistent view of the daemon's queue.
type Snapshot struct {
	TakenAt  time.Time        `json:"taken_at"`
	Stale    bool             `json:"stale"`
	Running  bool             `json:"running"`
	Online   bool             `json:"online"`
	Engine   string           `json:"engine"`
	Degraded bool             `json:"degraded"`
	Pending  int              `json:"pending"`
	Syncing  int              `json:"syncing"`
	Failed   int              `json:"failed"`
	Total    int              `json:"total"`
	LastPass *daemon.PassInfo `json:"last_pass,omitempty"`
	Items    []ipc.QueueItem  `json:"items"`
}

// mergeItems combines per-status query results into one list. The
// queries run one after another, so an item that moved between statuses
// can appear in more than one batch; the later batch wins. The result
// is ordered newest first.
func mergeItems(batches ...[]ipc.QueueItem) []ipc.QueueItem {
	byID := make(map[string]ipc.QueueItem)
	order := make([]string, 0)
	for _, batch := range batches {
		for _, item := range batch {
			if _, seen := byID[item.ID]; !seen {
				order = append(order, item.ID)
			}
			byID[item.ID] = item
		}
	}

	merged := make([]ipc.QueueItem, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt > merged[j].CreatedAt
		}
		return merged[i].ID > merged[j].ID
	})
	return merged
}

func countByStatus(items []ipc.QueueItem) (pending, syncing, failed int) {
	for _, item := range items {
		switch queue.Status(item.Status) {
		case queue.StatusPending:
			pending++
		case queue.StatusSyncing:
			syncing++
		case queue.StatusFailed:
			failed++
		}
	}
	return pending, syncing, failed
}
