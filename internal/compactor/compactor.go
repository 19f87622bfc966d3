// Package compactor materializes a fresh document snapshot from the
// journal's existing snapshot and blocks, bounding how much history startup
// recovery has to replay.
package compactor

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/journal"
)

// MinBlocksToCompact is the block count at or below which Compact is a no-op:
// compacting a handful of small blocks isn't worth a full replay pass.
const MinBlocksToCompact = 5

// Compactor runs at most one compaction pass at a time, guarded by a CAS
// flag rather than a mutex so a busy Compact call returns immediately
// instead of queuing behind the in-flight one.
type Compactor struct {
	dir        string
	log        zerolog.Logger
	compacting int32
}

// New returns a Compactor over dir.
func New(dir string, log zerolog.Logger) *Compactor {
	return &Compactor{dir: dir, log: log.With().Str("component", "compactor").Logger()}
}

// Compact triggers a compaction pass on a background goroutine if one isn't
// already running. It never blocks the caller.
func (c *Compactor) Compact() {
	if !atomic.CompareAndSwapInt32(&c.compacting, 0, 1) {
		return
	}
	go func() {
		defer atomic.StoreInt32(&c.compacting, 0)
		if err := c.run(); err != nil {
			c.log.Error().Err(err).Msg("compaction failed")
		}
	}()
}

func (c *Compactor) run() error {
	blocks, err := journal.ListBlocks(c.dir)
	if err != nil {
		return err
	}
	if len(blocks) <= MinBlocksToCompact {
		return nil
	}

	// Compact everything but the newest block, which is still being
	// appended to. Covered blocks are left on disk; see the orphan-block
	// note in DESIGN.md for why deletion isn't attempted here.
	covered := blocks[:len(blocks)-1]

	snapshot, ok, err := journal.LoadSnapshot(c.dir)
	if err != nil {
		return err
	}
	if !ok {
		snapshot = document.FromObject(document.NewObject())
	}

	c.log.Info().Ints("blocks", covered).Msg("compaction start")

	merged, err := journal.Replay(snapshot, c.dir, covered)
	if err != nil {
		return err
	}

	if err := journal.WriteSnapshot(c.dir, merged); err != nil {
		return err
	}

	c.log.Info().Msg("compaction finish")
	return nil
}
