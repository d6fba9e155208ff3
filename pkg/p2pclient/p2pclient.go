// Package p2pclient defines the abstract interface the Plugin Coordinator
// (component J) uses to drive the host P2P client's search/transfer APIs
// (§6: "these are abstract collaborator methods; implementers substitute
// the host client's equivalents"), plus an in-memory Mock used only by the
// cmd/plugin reference harness (§4.J) — never by production code, since the
// P2P client itself is explicitly out of scope (§1).
package p2pclient

import (
	"context"
	"fmt"
	"sync"
)

// SearchResult is one file offered by a peer in response to a search,
// delivered asynchronously after Search returns a token.
type SearchResult struct {
	Peer            string
	VirtualPath     string
	SizeBytes       int64
	BitrateKbps     int
	DurationSeconds int
}

// TransferState is the lifecycle state of an enqueued download.
type TransferState string

const (
	TransferQueued       TransferState = "queued"
	TransferTransferring TransferState = "transferring"
	TransferCompleted    TransferState = "completed"
	TransferFailed       TransferState = "failed"
)

// Transfer is the live state of one enqueued download, as iterable by
// virtual path (§6).
type Transfer struct {
	VirtualPath string
	BytesDone   int64
	SizeBytes   int64
	State       TransferState
}

// Client is the abstract collaborator interface for the host P2P client.
// Every method is scoped to this process's own searches/downloads.
type Client interface {
	// Search starts a new search for query and returns a peer-assigned
	// token; matching results are delivered to any handler registered via
	// OnSearchResult, tagged with this token.
	Search(ctx context.Context, query string) (token string, err error)

	// Download enqueues a transfer of virtualPath from peer, of the given
	// size. Completion is reported to handlers registered via
	// OnTransferComplete.
	Download(ctx context.Context, peer, virtualPath string, size int64) error

	// Abort cancels an in-flight transfer for virtualPath. Best-effort: a
	// transfer that has already completed or never existed is not an error.
	Abort(ctx context.Context, virtualPath string) error

	// Transfer returns the live state of the transfer for virtualPath, if
	// one is tracked. ok is false if the client has no record of it (the
	// transfer either never existed or has been forgotten) — this is part
	// of the stall-detection signal (§4.J: "the transfer entry has
	// disappeared").
	Transfer(virtualPath string) (t Transfer, ok bool)

	// OnSearchResult registers a handler invoked for every incoming file
	// result across all active searches.
	OnSearchResult(fn func(token string, result SearchResult))

	// OnTransferComplete registers a handler invoked when a transfer
	// finishes successfully.
	OnTransferComplete(fn func(virtualPath string))
}

// Mock is an in-memory Client used by the cmd/plugin reference harness so
// the coordinator's scoring, adaptive-polling, and stall-detection logic has
// a runnable home outside the real P2P client (§4.J, §6). Tests and the
// harness drive it directly via PushResult/AdvanceTransfer/CompleteTransfer.
type Mock struct {
	mu            sync.Mutex
	nextToken     int
	transfers     map[string]*Transfer
	onResult      func(token string, result SearchResult)
	onComplete    func(virtualPath string)
	abortedPaths  map[string]bool
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{
		transfers:    make(map[string]*Transfer),
		abortedPaths: make(map[string]bool),
	}
}

func (m *Mock) Search(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextToken++
	return fmt.Sprintf("mock-token-%d", m.nextToken), nil
}

func (m *Mock) Download(_ context.Context, _, virtualPath string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[virtualPath] = &Transfer{VirtualPath: virtualPath, SizeBytes: size, State: TransferQueued}
	return nil
}

func (m *Mock) Abort(_ context.Context, virtualPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transfers, virtualPath)
	m.abortedPaths[virtualPath] = true
	return nil
}

func (m *Mock) Transfer(virtualPath string) (Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[virtualPath]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

func (m *Mock) OnSearchResult(fn func(token string, result SearchResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResult = fn
}

func (m *Mock) OnTransferComplete(fn func(virtualPath string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = fn
}

// PushResult delivers result to the registered search-result handler, as if
// the host P2P client had received it from a peer.
func (m *Mock) PushResult(token string, result SearchResult) {
	m.mu.Lock()
	fn := m.onResult
	m.mu.Unlock()
	if fn != nil {
		fn(token, result)
	}
}

// AdvanceTransfer sets bytesDone for an in-flight transfer, simulating
// progress reported by the host client.
func (m *Mock) AdvanceTransfer(virtualPath string, bytesDone int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transfers[virtualPath]; ok {
		t.BytesDone = bytesDone
		t.State = TransferTransferring
	}
}

// CompleteTransfer marks virtualPath as finished and invokes the registered
// completion handler, simulating the host client's finish notification.
func (m *Mock) CompleteTransfer(virtualPath string) {
	m.mu.Lock()
	if t, ok := m.transfers[virtualPath]; ok {
		t.State = TransferCompleted
		t.BytesDone = t.SizeBytes
	}
	fn := m.onComplete
	m.mu.Unlock()
	if fn != nil {
		fn(virtualPath)
	}
}
