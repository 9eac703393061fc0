// Package checkpoint reads and writes full-tensor grid checkpoints. A
// checkpoint file is one zstd stream holding a JSON header line followed by
// the gob-encoded payload; the header line lets tools identify a file
// without decoding the tensor.
package checkpoint

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"terrarium.sim/internal/simerr"
	"terrarium.sim/internal/sim/grid"
)

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Tick    uint64 `json:"tick"`
}

type CheckpointV1 struct {
	Header Header `json:"header"`

	Height int      `json:"height"`
	Width  int      `json:"width"`
	Fields int      `json:"fields"`
	Names  []string `json:"names"`

	Data []float32 `json:"data"`
}

// Tensor reassembles the grid tensor stored in the checkpoint.
func (c *CheckpointV1) Tensor() (*grid.Tensor, error) {
	if len(c.Data) != c.Height*c.Width*c.Fields {
		return nil, fmt.Errorf("%w: checkpoint tick %d has %d values for a %dx%dx%d grid",
			simerr.ErrCorruption, c.Header.Tick, len(c.Data), c.Height, c.Width, c.Fields)
	}
	t := &grid.Tensor{H: c.Height, W: c.Width, F: c.Fields, Data: c.Data}
	return t, nil
}

func Write(path string, cp CheckpointV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(cp.Header)
	if _, err := bw.Write(hb); err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	if err := bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}

	if err := gob.NewEncoder(bw).Encode(&cp); err != nil {
		return fmt.Errorf("%w: gob encode: %v", simerr.ErrStorage, err)
	}
	return nil
}

func Read(path string) (CheckpointV1, error) {
	var cp CheckpointV1
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cp, fmt.Errorf("%w: checkpoint %s", simerr.ErrNotFound, path)
		}
		return cp, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return cp, fmt.Errorf("%w: %v", simerr.ErrCorruption, err)
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; the gob payload also carries the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return cp, fmt.Errorf("%w: checkpoint header line: %v", simerr.ErrCorruption, err)
	}

	if err := gob.NewDecoder(br).Decode(&cp); err != nil {
		return cp, fmt.Errorf("%w: gob decode: %v", simerr.ErrCorruption, err)
	}
	return cp, nil
}
