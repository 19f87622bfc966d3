package journal

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
)

func TestBlockAppendAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/1.block"

	b, err := OpenBlock(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := Record{
		Prefix:  pointer.MustParse("/a"),
		Patches: []patch.Operation{{Op: patch.OpAdd, Path: pointer.MustParse("/b"), Value: document.Number(1)}},
	}
	if err := b.Append(rec); err != nil {
		t.Fatal(err)
	}
	if err := b.Append(rec); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := ReadBlock(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if !got[0].Prefix.Equal(pointer.MustParse("/a")) {
		t.Fatalf("got prefix %v", got[0].Prefix)
	}
	if len(got[0].Patches) != 1 || got[0].Patches[0].Op != patch.OpAdd {
		t.Fatalf("got patches %+v", got[0].Patches)
	}
}

func TestBlockRejectsOversizeAppend(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBlock(dir + "/1.block")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	b.size = MaxBlockSize - 1
	err = b.Append(Record{Patches: []patch.Operation{{Op: patch.OpAdd, Path: pointer.MustParse("/a"), Value: document.Number(1)}}})
	if err != ErrBlockFull {
		t.Fatalf("got %v", err)
	}
}

func TestListBlocksSortedAscending(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"3.block", "1.block", "2.block", "ignored.txt"} {
		b, err := OpenBlock(dir + "/" + name)
		if err == nil {
			b.Close()
		}
	}
	blocks, err := ListBlocks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 3 || blocks[0] != 1 || blocks[1] != 2 || blocks[2] != 3 {
		t.Fatalf("got %v", blocks)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	root, err := document.Decode([]byte(`{"a":1,"b":[1,2,3]}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteSnapshot(dir, root); err != nil {
		t.Fatal(err)
	}
	got, ok, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if !document.Equal(got, root) {
		t.Fatalf("got %v, want %v", got, root)
	}
}

func TestLoadSnapshotAbsent(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no snapshot")
	}
}

func TestReplayAppliesBlocksInOrder(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBlock(dir + "/1.block")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Append(Record{Patches: []patch.Operation{{Op: patch.OpAdd, Path: pointer.MustParse("/a"), Value: document.Number(1)}}}); err != nil {
		t.Fatal(err)
	}
	if err := b.Append(Record{Patches: []patch.Operation{{Op: patch.OpAdd, Path: pointer.MustParse("/b"), Value: document.Number(2)}}}); err != nil {
		t.Fatal(err)
	}
	b.Close()

	root := document.FromObject(document.NewObject())
	root, err = Replay(root, dir, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	data, err := document.Encode(root)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1,"b":2}` {
		t.Fatalf("got %s", data)
	}
}

func TestReplayAbortsOnMalformedTrailingBytes(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBlock(dir + "/1.block")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Append(Record{Patches: []patch.Operation{{Op: patch.OpAdd, Path: pointer.MustParse("/a"), Value: document.Number(1)}}}); err != nil {
		t.Fatal(err)
	}
	b.Close()

	f, err := os.OpenFile(dir+"/1.block", os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"patch_records":[{"op":"add","path":"/x"`) // truncated, invalid JSON
	f.Close()

	_, err = Replay(document.FromObject(document.NewObject()), dir, []int{1})
	if err == nil {
		t.Fatal("expected replay to fail on malformed trailing record")
	}
}

func TestJournalEnqueueWritesToActiveBlock(t *testing.T) {
	dir := t.TempDir()
	j, root, err := Open(dir, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsNull() && root.Kind() != document.KindObject {
		t.Fatalf("unexpected initial root kind %v", root.Kind())
	}

	j.Enqueue(nil, []patch.Operation{{Op: patch.OpAdd, Path: pointer.MustParse("/a"), Value: document.Number(1)}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		blocks, _ := ListBlocks(dir)
		if len(blocks) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for journal to create a block")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := ReadBlock(dir + "/1.block")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
}

func TestJournalRecoversPreviousSession(t *testing.T) {
	dir := t.TempDir()
	j, _, err := Open(dir, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	j.Enqueue(nil, []patch.Operation{{Op: patch.OpAdd, Path: pointer.MustParse("/a"), Value: document.Number(1)}})
	j.Enqueue(nil, []patch.Operation{{Op: patch.OpAdd, Path: pointer.MustParse("/b"), Value: document.Number(2)}})
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j2, root, err := Open(dir, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()

	data, err := document.Encode(root)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1,"b":2}` {
		t.Fatalf("got %s", data)
	}
}
