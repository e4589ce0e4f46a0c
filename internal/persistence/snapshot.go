package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/mars-colony/internal/engine"
	"github.com/talgya/mars-colony/internal/simtime"
)

// Header is the first line of a snapshot file. It can be read without
// decoding the body.
type Header struct {
	Version int             `json:"version"`
	Seed    int64           `json:"seed"`
	Tick    uint64          `json:"tick"`
	Time    simtime.SimTime `json:"time"`
	Agents  int             `json:"agents"`
}

// WriteSnapshot writes a zstd-compressed snapshot: a JSON header line
// followed by the JSON body.
func WriteSnapshot(path string, snap *engine.Snapshot) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := encodeSnapshot(f, snap); err != nil {
		return err
	}
	return f.Sync()
}

func encodeSnapshot(f *os.File, snap *engine.Snapshot) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(Header{
		Version: snap.Version,
		Seed:    snap.Seed,
		Tick:    snap.Tick,
		Time:    snap.Time,
		Agents:  len(snap.Agents),
	})
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(snap); err != nil {
		enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadSnapshot reads a file written by WriteSnapshot.
func ReadSnapshot(path string) (*engine.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(line, &hdr); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Version != engine.SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", hdr.Version, engine.SnapshotVersion)
	}

	var snap engine.Snapshot
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	return &snap, nil
}

// ReadHeader reads only the header line of a snapshot file.
func ReadHeader(path string) (Header, error) {
	var hdr Header
	f, err := os.Open(path)
	if err != nil {
		return hdr, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return hdr, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, fmt.Errorf("decode header: %w", err)
	}
	return hdr, nil
}
