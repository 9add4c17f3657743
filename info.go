package filequeue

import "time"

// QueueInfo is the observable snapshot of a Queue's state (spec.md §3).
// Updates to the fields backing a snapshot are atomic with catalog
// mutations: Info always reflects a consistent point-in-time view.
type QueueInfo struct {
	MessageCount int
	FileCount    int
	// FilesTotalSize is the sum of every ready entry's logical
	// (decompressed) size, the same unit Entry.Size tracks internally —
	// not raw on-disk bytes, which differ once compression is enabled.
	FilesTotalSize      int64
	MessagesDropped     int64
	SenderCount         int
	ReceiverConnectTime time.Time
	LastSenderCommit    time.Time
	LastReceiverCommit  time.Time
}

// stats holds the mutable counters backing QueueInfo. All fields are
// guarded by the owning engine's queue mutex; there is deliberately no
// atomic/lock-free bookkeeping here, because every mutation already happens
// under that mutex (spec.md §5).
type stats struct {
	messageCount       int
	fileCount          int
	filesTotalSize     int64
	messagesDropped    int64
	senderCount        int
	receiverConnectAt  time.Time
	lastSenderCommit   time.Time
	lastReceiverCommit time.Time
}

func (s *stats) snapshot() QueueInfo {
	return QueueInfo{
		MessageCount:        s.messageCount,
		FileCount:           s.fileCount,
		FilesTotalSize:      s.filesTotalSize,
		MessagesDropped:     s.messagesDropped,
		SenderCount:         s.senderCount,
		ReceiverConnectTime: s.receiverConnectAt,
		LastSenderCommit:    s.lastSenderCommit,
		LastReceiverCommit:  s.lastReceiverCommit,
	}
}
