package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/market-sim/internal/engine"
	"github.com/talgya/market-sim/internal/entropy"
)

// SnapshotVersion is written into every snapshot header.
const SnapshotVersion = 1

// SnapshotHeader is the first line of a decompressed snapshot.
type SnapshotHeader struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id,omitempty"`
	Day     uint64 `json:"day"`
}

type snapshotBody struct {
	State *engine.State `json:"state"`
	RNG   []byte        `json:"rng"`
}

// WriteSnapshot stores a state and the random stream position that continues
// it as zstd-compressed JSON. The file is replaced atomically; concurrent
// writers each go through their own temporary file and the last rename wins.
func WriteSnapshot(path, runID string, s *engine.State, rng []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := encodeSnapshot(f, runID, s, rng); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encodeSnapshot(f *os.File, runID string, s *engine.State, rng []byte) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(SnapshotHeader{Version: SnapshotVersion, RunID: runID, Day: s.Day})
	if err != nil {
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(snapshotBody{State: s, RNG: rng}); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// ReadSnapshot loads a snapshot written by WriteSnapshot. Advancing the
// returned state with the returned source reproduces the original run.
func ReadSnapshot(path string) (SnapshotHeader, *engine.State, *entropy.Source, error) {
	var hdr SnapshotHeader
	f, err := os.Open(path)
	if err != nil {
		return hdr, nil, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, nil, nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, nil, nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, nil, nil, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Version != SnapshotVersion {
		return hdr, nil, nil, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}

	var body snapshotBody
	if err := json.NewDecoder(br).Decode(&body); err != nil {
		return hdr, nil, nil, fmt.Errorf("decode state: %w", err)
	}
	if body.State == nil {
		return hdr, nil, nil, errors.New("snapshot has no state")
	}
	rng := &entropy.Source{}
	if err := rng.UnmarshalBinary(body.RNG); err != nil {
		return hdr, nil, nil, err
	}
	return hdr, body.State, rng, nil
}
