// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package filetransfer

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/screenlink-project/screenlink/entitlement"
	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/protocol"
)

// Result reports the outcome of one inbound transfer. Err is nil for
// a completed transfer; Path is where the file was written.
type Result struct {
	FileID string
	Name   string
	Path   string
	Err    error
}

// TransferState tracks one inbound transfer: the announced metadata
// and a sparse chunk buffer indexed by chunk number. Nothing touches
// the disk until every chunk has arrived and both checksum layers
// agree.
type TransferState struct {
	fileID       string
	name         string
	size         int64
	sum          string
	chunks       [][]byte
	received     int
	lastActivity time.Time
}

// Receiver reassembles inbound transfers. The host side consults the
// entitlement service before accepting one.
type Receiver struct {
	logger      *slog.Logger
	clock       clock.Clock
	sink        Sink
	entitlement entitlement.Service
	downloadDir string
	staleAfter  time.Duration

	mu        sync.Mutex
	transfers map[string]*TransferState
	onResult  func(Result)
}

// NewReceiver creates a receiver writing completed files into
// downloadDir. Transfers with no activity for staleAfter are
// discarded by [Receiver.SweepStale]. A nil entitlement service
// accepts every transfer.
func NewReceiver(sink Sink, downloadDir string, staleAfter time.Duration, service entitlement.Service, logger *slog.Logger, clk clock.Clock) *Receiver {
	if service == nil {
		service = entitlement.NewStatic(clk, 0)
	}
	return &Receiver{
		logger:      logger,
		clock:       clk,
		sink:        sink,
		entitlement: service,
		downloadDir: downloadDir,
		staleAfter:  staleAfter,
		transfers:   make(map[string]*TransferState),
	}
}

// OnResult registers the callback invoked once per finished transfer,
// completed or failed. Must be set before messages flow.
func (r *Receiver) OnResult(callback func(Result)) {
	r.mu.Lock()
	r.onResult = callback
	r.mu.Unlock()
}

// Active returns the number of transfers still assembling.
func (r *Receiver) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

// Handle reacts to one sender message, reporting whether the payload
// belonged to the receiver.
func (r *Receiver) Handle(payload protocol.Payload) bool {
	switch message := payload.(type) {
	case *protocol.FileStart:
		r.onStart(message)
	case *protocol.FileChunk:
		r.onChunk(message)
	case *protocol.FileComplete:
		// The sender's view of completion; assembly already finished
		// on the final verified chunk.
	case *protocol.FileCancel:
		r.onCancelled(message)
	default:
		return false
	}
	return true
}

func (r *Receiver) onStart(start *protocol.FileStart) {
	if !r.entitlement.CanUseFeature(entitlement.FeatureFileTransfer) {
		r.logger.Warn("file transfer refused by entitlement", "fileID", start.FileID, "name", start.Name)
		r.deliver(&protocol.FileCancel{FileID: start.FileID, Reason: "file transfer not permitted"})
		return
	}

	r.mu.Lock()
	transfer, exists := r.transfers[start.FileID]
	if !exists {
		transfer = &TransferState{
			fileID:       start.FileID,
			name:         start.Name,
			size:         start.Size,
			sum:          start.Checksum,
			chunks:       make([][]byte, start.TotalChunks),
			lastActivity: r.clock.Now(),
		}
		r.transfers[start.FileID] = transfer
	}
	r.mu.Unlock()

	// A duplicate file-start just re-answers ready; the existing
	// buffer keeps whatever already arrived.
	r.deliver(&protocol.FileReady{FileID: start.FileID})
	if !exists {
		r.logger.Info("file transfer accepted",
			"fileID", start.FileID,
			"name", start.Name,
			"size", start.Size,
			"chunks", start.TotalChunks,
		)
		if start.TotalChunks == 0 {
			r.finalize(transfer)
		}
	}
}

func (r *Receiver) onChunk(chunk *protocol.FileChunk) {
	r.mu.Lock()
	transfer, ok := r.transfers[chunk.FileID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("chunk for unknown transfer", "fileID", chunk.FileID, "index", chunk.Index)
		return
	}
	transfer.lastActivity = r.clock.Now()
	if chunk.Index >= len(transfer.chunks) {
		r.mu.Unlock()
		r.logger.Warn("chunk index out of range", "fileID", chunk.FileID, "index", chunk.Index)
		return
	}

	if checksum(chunk.Data) != chunk.Checksum {
		r.mu.Unlock()
		r.logger.Warn("chunk checksum mismatch", "fileID", chunk.FileID, "index", chunk.Index)
		r.deliver(&protocol.FileChunkRetry{FileID: chunk.FileID, Index: chunk.Index})
		return
	}

	// Duplicates are acked again but stored and counted only once.
	if transfer.chunks[chunk.Index] == nil {
		transfer.chunks[chunk.Index] = bytes.Clone(chunk.Data)
		transfer.received++
	}
	complete := transfer.received == len(transfer.chunks)
	r.mu.Unlock()

	r.deliver(&protocol.FileChunkAck{FileID: chunk.FileID, Index: chunk.Index})
	if complete {
		r.finalize(transfer)
	}
}

func (r *Receiver) onCancelled(cancel *protocol.FileCancel) {
	r.mu.Lock()
	transfer, ok := r.transfers[cancel.FileID]
	delete(r.transfers, cancel.FileID)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.logger.Info("file transfer cancelled by sender", "fileID", cancel.FileID, "reason", cancel.Reason)
	r.report(Result{
		FileID: transfer.fileID,
		Name:   transfer.name,
		Err:    fmt.Errorf("cancelled by sender: %s", cancel.Reason),
	})
}

// finalize assembles the chunk buffer in index order, verifies the
// whole-file checksum, and persists the file. Failure discards the
// bytes; nothing partial reaches the download directory.
func (r *Receiver) finalize(transfer *TransferState) {
	r.mu.Lock()
	delete(r.transfers, transfer.fileID)
	var assembled bytes.Buffer
	assembled.Grow(int(transfer.size))
	for _, chunk := range transfer.chunks {
		assembled.Write(chunk)
	}
	r.mu.Unlock()

	if sum := checksum(assembled.Bytes()); sum != transfer.sum {
		r.logger.Error("file checksum mismatch",
			"fileID", transfer.fileID,
			"name", transfer.name,
			"want", transfer.sum,
			"got", sum,
		)
		r.report(Result{
			FileID: transfer.fileID,
			Name:   transfer.name,
			Err:    fmt.Errorf("file checksum mismatch for %s", transfer.name),
		})
		return
	}

	path := filepath.Join(r.downloadDir, safeName(transfer.name, transfer.fileID))
	if err := os.MkdirAll(r.downloadDir, 0o755); err != nil {
		r.report(Result{FileID: transfer.fileID, Name: transfer.name, Err: err})
		return
	}
	if err := os.WriteFile(path, assembled.Bytes(), 0o644); err != nil {
		r.report(Result{FileID: transfer.fileID, Name: transfer.name, Err: err})
		return
	}
	r.logger.Info("file transfer completed", "fileID", transfer.fileID, "name", transfer.name, "path", path)
	r.report(Result{FileID: transfer.fileID, Name: transfer.name, Path: path})
}

// SweepStale discards transfers with no activity inside the stale
// window, reporting each as failed.
func (r *Receiver) SweepStale() {
	cutoff := r.clock.Now().Add(-r.staleAfter)

	r.mu.Lock()
	var stale []*TransferState
	for fileID, transfer := range r.transfers {
		if transfer.lastActivity.Before(cutoff) {
			stale = append(stale, transfer)
			delete(r.transfers, fileID)
		}
	}
	r.mu.Unlock()

	for _, transfer := range stale {
		r.logger.Warn("discarding stale transfer", "fileID", transfer.fileID, "name", transfer.name, "received", transfer.received)
		r.report(Result{
			FileID: transfer.fileID,
			Name:   transfer.name,
			Err:    fmt.Errorf("transfer went quiet for %s", r.staleAfter),
		})
	}
}

// StartSweep runs the stale-transfer sweep on the given interval. The
// returned stop function cancels it synchronously.
func (r *Receiver) StartSweep(interval time.Duration) (stop func()) {
	ticker := r.clock.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				r.SweepStale()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// safeName strips any path components the sender put in the file
// name; names that reduce to nothing fall back to the transfer id.
func safeName(name, fileID string) string {
	base := filepath.Base(name)
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return fileID
	}
	return base
}

func (r *Receiver) deliver(payload protocol.Payload) {
	if err := r.sink.Deliver(payload); err != nil {
		r.logger.Debug("delivery failed", "kind", payload.Kind(), "error", err)
	}
}

func (r *Receiver) report(result Result) {
	r.mu.Lock()
	callback := r.onResult
	r.mu.Unlock()
	if callback != nil {
		callback(result)
	}
}
