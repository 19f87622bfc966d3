// Package journal implements the durable append-only log: bounded block
// files, startup recovery (snapshot + replay), and a background writer
// goroutine that drains an unbounded in-process queue so that request
// handlers never block on disk I/O.
package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
)

// SnapshotFileName and TempSnapshotFileName name the compactor's materialized
// document image and its write-then-rename staging file.
const (
	SnapshotFileName     = "snapshot.data"
	TempSnapshotFileName = "snapshot.temp"
)

// RetryBackoff is how long the writer goroutine sleeps between append
// retries after a transient write failure, before trying again.
const RetryBackoff = 5 * time.Second

// CompactInterval is the minimum time between the writer goroutine's
// compaction requests, in addition to the one-shot run triggered at Open.
// The writer checks it after each appended record, so no request is made
// while no records arrive.
const CompactInterval = 30 * time.Minute

// Compactor is the subset of *compactor.Compactor the journal depends on,
// expressed as an interface so the two packages don't import each other.
type Compactor interface {
	Compact()
}

// ListBlocks returns the numeric indices of every "<n>.block" file in dir,
// sorted ascending.
func ListBlocks(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("journal: list blocks: %w", err)
	}
	var blocks []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".block") {
			continue
		}
		stem := strings.TrimSuffix(name, ".block")
		idx, err := strconv.Atoi(stem)
		if err != nil {
			continue
		}
		blocks = append(blocks, idx)
	}
	sort.Ints(blocks)
	return blocks, nil
}

func blockPath(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index)+".block")
}

// LoadSnapshot reads snapshot.data from dir, if present.
func LoadSnapshot(dir string) (document.Value, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, SnapshotFileName))
	if errors.Is(err, os.ErrNotExist) {
		return document.Value{}, false, nil
	}
	if err != nil {
		return document.Value{}, false, fmt.Errorf("journal: read snapshot: %w", err)
	}
	v, err := document.Decode(data)
	if err != nil {
		return document.Value{}, false, fmt.Errorf("journal: decode snapshot: %w", err)
	}
	return v, true, nil
}

// WriteSnapshot serializes root and installs it as dir's snapshot.data via
// a write-then-rename, so a crash mid-write never leaves a half-written
// snapshot in place of a good one.
func WriteSnapshot(dir string, root document.Value) error {
	data, err := document.Encode(root)
	if err != nil {
		return fmt.Errorf("journal: encode snapshot: %w", err)
	}
	tmp := filepath.Join(dir, TempSnapshotFileName)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("journal: write snapshot.temp: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, SnapshotFileName)); err != nil {
		return fmt.Errorf("journal: install snapshot: %w", err)
	}
	return nil
}

// Replay applies every record in blocks, in order, to root via the patch
// engine and returns the resulting document. A malformed record in any
// block aborts recovery.
func Replay(root document.Value, dir string, blocks []int) (document.Value, error) {
	eng := patch.NewEngine()
	for _, index := range blocks {
		records, err := ReadBlock(blockPath(dir, index))
		if err != nil {
			return document.Value{}, err
		}
		for _, rec := range records {
			if err := eng.Apply(&root, rec.Prefix, rec.Patches); err != nil {
				return document.Value{}, fmt.Errorf("journal: replay block %d: %w", index, err)
			}
		}
	}
	return root, nil
}

type queuedRecord struct {
	prefix pointer.Path
	ops    []patch.Operation
}

// Journal owns the active block file and a dedicated writer goroutine.
// Enqueue is non-blocking: records are appended to an in-memory queue and
// the writer goroutine drains it independently, so a slow or failing disk
// never stalls request handling.
type Journal struct {
	dir       string
	log       zerolog.Logger
	compactor Compactor

	mu          sync.Mutex
	active      *Block
	activeIndex int

	qmu    sync.Mutex
	qcond  *sync.Cond
	queue  []queuedRecord
	closed bool

	lastCompact time.Time
	done        chan struct{}
}

// Open recovers the document at dir (snapshot + block replay) and returns a
// Journal ready to accept new mutations, along with the recovered root
// value. compactor may be nil, in which case the periodic and startup
// compaction triggers are no-ops.
func Open(dir string, compactor Compactor, log zerolog.Logger) (*Journal, document.Value, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, document.Value{}, fmt.Errorf("journal: create data dir: %w", err)
	}

	blocks, err := ListBlocks(dir)
	if err != nil {
		return nil, document.Value{}, err
	}

	root, ok, err := LoadSnapshot(dir)
	if err != nil {
		return nil, document.Value{}, err
	}
	if !ok {
		root = document.FromObject(document.NewObject())
	}

	root, err = Replay(root, dir, blocks)
	if err != nil {
		return nil, document.Value{}, err
	}

	j := &Journal{
		dir:         dir,
		log:         log.With().Str("component", "journal").Logger(),
		compactor:   compactor,
		lastCompact: time.Now(),
		done:        make(chan struct{}),
	}
	j.qcond = sync.NewCond(&j.qmu)

	if len(blocks) > 0 {
		last := blocks[len(blocks)-1]
		active, err := OpenBlock(blockPath(dir, last))
		if err != nil {
			return nil, document.Value{}, err
		}
		j.active = active
		j.activeIndex = last
	}

	if compactor != nil {
		compactor.Compact()
	}

	go j.run()
	return j, root, nil
}

// Enqueue hands a mutation batch to the writer goroutine. It never blocks:
// the record is appended to an unbounded in-memory queue, mirroring the
// upstream server's crossbeam unbounded MPSC channel.
func (j *Journal) Enqueue(prefix pointer.Path, ops []patch.Operation) {
	j.qmu.Lock()
	j.queue = append(j.queue, queuedRecord{prefix: prefix, ops: ops})
	j.qcond.Signal()
	j.qmu.Unlock()
}

// Close drains the queue, stops the writer goroutine, and closes the active
// block file.
func (j *Journal) Close() error {
	j.qmu.Lock()
	j.closed = true
	j.qcond.Broadcast()
	j.qmu.Unlock()

	<-j.done

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.active != nil {
		return j.active.Close()
	}
	return nil
}

func (j *Journal) run() {
	defer close(j.done)
	for {
		item, ok := j.next()
		if !ok {
			return
		}
		j.appendWithRetry(item)

		if j.compactor != nil && time.Since(j.lastCompact) > CompactInterval {
			j.compactor.Compact()
			j.lastCompact = time.Now()
		}
	}
}

func (j *Journal) next() (queuedRecord, bool) {
	j.qmu.Lock()
	defer j.qmu.Unlock()
	for len(j.queue) == 0 && !j.closed {
		j.qcond.Wait()
	}
	if len(j.queue) == 0 {
		return queuedRecord{}, false
	}
	item := j.queue[0]
	j.queue = j.queue[1:]
	return item, true
}

func (j *Journal) appendWithRetry(item queuedRecord) {
	for {
		err := j.appendOnce(item)
		if err == nil {
			return
		}
		j.log.Error().Err(err).Msg("journal append failed, retrying")
		time.Sleep(RetryBackoff)
	}
}

func (j *Journal) appendOnce(item queuedRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := Record{Prefix: item.prefix, Patches: item.ops}

	if j.active == nil {
		active, err := OpenBlock(blockPath(j.dir, 1))
		if err != nil {
			return err
		}
		j.active = active
		j.activeIndex = 1
	}

	err := j.active.Append(rec)
	if errors.Is(err, ErrBlockFull) {
		j.active.Close()
		j.activeIndex++
		active, openErr := OpenBlock(blockPath(j.dir, j.activeIndex))
		if openErr != nil {
			return openErr
		}
		j.active = active
		err = j.active.Append(rec)
	}
	return err
}
