// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package filetransfer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/protocol"
)

// Sink is where protocol payloads go. The transport switch satisfies
// it.
type Sink interface {
	Deliver(payload protocol.Payload) error
}

// CapacityError reports a file rejected before any transfer traffic
// because it exceeds the configured maximum size.
type CapacityError struct {
	Size  int64
	Limit int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("file is %d bytes, limit is %d", e.Size, e.Limit)
}

// Sender drives the outbound side of a transfer. Chunks are
// ack-gated: exactly one chunk is in flight per transfer, and the
// next one ships only when the receiver acknowledges it.
type Sender struct {
	logger      *slog.Logger
	clock       clock.Clock
	sink        Sink
	chunkSize   int
	maxFileSize int64
	staleAfter  time.Duration

	mu        sync.Mutex
	transfers map[string]*outboundTransfer
}

// outboundTransfer keeps the open file and the in-flight chunk index.
// Chunks are read with ReadAt, so the file offset never moves after
// the initial checksum pass.
type outboundTransfer struct {
	fileID       string
	name         string
	size         int64
	totalChunks  int
	file         *os.File
	inFlight     int
	lastActivity time.Time
}

// NewSender creates a sender. chunkSize and maxFileSize come from the
// client configuration. Transfers whose peer stays silent for
// staleAfter are discarded by [Sender.SweepStale].
func NewSender(sink Sink, chunkSize int, maxFileSize int64, staleAfter time.Duration, logger *slog.Logger, clk clock.Clock) *Sender {
	return &Sender{
		logger:      logger,
		clock:       clk,
		sink:        sink,
		chunkSize:   chunkSize,
		maxFileSize: maxFileSize,
		staleAfter:  staleAfter,
		transfers:   make(map[string]*outboundTransfer),
	}
}

// Offer starts a transfer for the file at path. The file is rejected
// with a [CapacityError] before anything is sent if it exceeds the
// configured maximum. On success the returned id identifies the
// transfer in every subsequent message.
func (s *Sender) Offer(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > s.maxFileSize {
		file.Close()
		return "", &CapacityError{Size: info.Size(), Limit: s.maxFileSize}
	}
	sum, err := checksumFile(file)
	if err != nil {
		file.Close()
		return "", err
	}

	transfer := &outboundTransfer{
		fileID:       uuid.NewString(),
		name:         info.Name(),
		size:         info.Size(),
		totalChunks:  chunkCount(info.Size(), s.chunkSize),
		file:         file,
		lastActivity: s.clock.Now(),
	}
	s.mu.Lock()
	s.transfers[transfer.fileID] = transfer
	s.mu.Unlock()

	start := &protocol.FileStart{
		FileID:      transfer.fileID,
		Name:        transfer.name,
		Size:        transfer.size,
		TotalChunks: transfer.totalChunks,
		Checksum:    sum,
	}
	if err := s.sink.Deliver(start); err != nil {
		s.drop(transfer.fileID)
		return "", fmt.Errorf("sending file-start: %w", err)
	}
	s.logger.Info("file transfer offered",
		"fileID", transfer.fileID,
		"name", transfer.name,
		"size", transfer.size,
		"chunks", transfer.totalChunks,
	)
	return transfer.fileID, nil
}

// Cancel aborts an outbound transfer and tells the receiver.
func (s *Sender) Cancel(fileID, reason string) {
	s.mu.Lock()
	transfer, ok := s.transfers[fileID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sink.Deliver(&protocol.FileCancel{FileID: fileID, Reason: reason}); err != nil {
		s.logger.Debug("file-cancel delivery failed", "fileID", fileID, "error", err)
	}
	s.drop(transfer.fileID)
	s.logger.Info("file transfer cancelled", "fileID", fileID, "reason", reason)
}

// Active returns the number of transfers still in flight.
func (s *Sender) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

// Handle reacts to one receiver message. It reports whether the
// payload belonged to the sender so callers can route unclaimed
// payloads elsewhere.
func (s *Sender) Handle(payload protocol.Payload) bool {
	switch message := payload.(type) {
	case *protocol.FileReady:
		s.onReady(message.FileID)
	case *protocol.FileChunkAck:
		s.onAck(message.FileID, message.Index)
	case *protocol.FileChunkRetry:
		s.onRetry(message.FileID, message.Index)
	case *protocol.FileCancel:
		s.onCancelled(message.FileID, message.Reason)
	default:
		return false
	}
	return true
}

// lookup fetches a transfer and marks it live for the stale sweep.
func (s *Sender) lookup(fileID string) (*outboundTransfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[fileID]
	if ok {
		transfer.lastActivity = s.clock.Now()
	}
	return transfer, ok
}

func (s *Sender) onReady(fileID string) {
	transfer, ok := s.lookup(fileID)
	if !ok {
		return
	}
	if transfer.totalChunks == 0 {
		s.finish(transfer)
		return
	}
	s.sendChunk(transfer, 0)
}

func (s *Sender) onAck(fileID string, index int) {
	transfer, ok := s.lookup(fileID)
	if !ok || index != transfer.inFlight {
		return
	}
	if index == transfer.totalChunks-1 {
		s.finish(transfer)
		return
	}
	s.sendChunk(transfer, index+1)
}

func (s *Sender) onRetry(fileID string, index int) {
	transfer, ok := s.lookup(fileID)
	if !ok || index < 0 || index >= transfer.totalChunks {
		return
	}
	s.logger.Warn("resending chunk after checksum mismatch", "fileID", fileID, "index", index)
	s.sendChunk(transfer, index)
}

func (s *Sender) onCancelled(fileID, reason string) {
	s.mu.Lock()
	_, ok := s.transfers[fileID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.drop(fileID)
	s.logger.Info("file transfer cancelled by receiver", "fileID", fileID, "reason", reason)
}

func (s *Sender) sendChunk(transfer *outboundTransfer, index int) {
	buffer := make([]byte, s.chunkSize)
	read, err := transfer.file.ReadAt(buffer, int64(index)*int64(s.chunkSize))
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Error("reading chunk failed", "fileID", transfer.fileID, "index", index, "error", err)
		s.Cancel(transfer.fileID, "read error")
		return
	}
	data := buffer[:read]

	transfer.inFlight = index
	chunk := &protocol.FileChunk{
		FileID:   transfer.fileID,
		Index:    index,
		Total:    transfer.totalChunks,
		Checksum: checksum(data),
		Data:     data,
	}
	if err := s.sink.Deliver(chunk); err != nil {
		s.logger.Error("chunk delivery failed", "fileID", transfer.fileID, "index", index, "error", err)
		s.Cancel(transfer.fileID, "delivery failed")
	}
}

func (s *Sender) finish(transfer *outboundTransfer) {
	if err := s.sink.Deliver(&protocol.FileComplete{FileID: transfer.fileID}); err != nil {
		s.logger.Debug("file-complete delivery failed", "fileID", transfer.fileID, "error", err)
	}
	s.drop(transfer.fileID)
	s.logger.Info("file transfer complete", "fileID", transfer.fileID, "name", transfer.name)
}

// SweepStale cancels transfers whose peer went quiet inside the stale
// window. The chunk pump only advances on an inbound message, so a
// link that died mid-transfer would otherwise pin the map entry and
// its open file forever.
func (s *Sender) SweepStale() {
	cutoff := s.clock.Now().Add(-s.staleAfter)

	s.mu.Lock()
	var stale []string
	for fileID, transfer := range s.transfers {
		if transfer.lastActivity.Before(cutoff) {
			stale = append(stale, fileID)
		}
	}
	s.mu.Unlock()

	for _, fileID := range stale {
		s.logger.Warn("discarding stale outbound transfer", "fileID", fileID)
		s.Cancel(fileID, fmt.Sprintf("transfer went quiet for %s", s.staleAfter))
	}
}

// StartSweep runs the stale-transfer sweep on the given interval. The
// returned stop function cancels it synchronously.
func (s *Sender) StartSweep(interval time.Duration) (stop func()) {
	ticker := s.clock.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.SweepStale()
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

// drop removes transfer state and closes its file.
func (s *Sender) drop(fileID string) {
	s.mu.Lock()
	transfer, ok := s.transfers[fileID]
	delete(s.transfers, fileID)
	s.mu.Unlock()
	if ok {
		transfer.file.Close()
	}
}
