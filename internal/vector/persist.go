package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// File format: magic, version, dimension, count, then per entry the id, doc id,
// chunk index, section path and the vector, all little endian.
const (
	fileMagic   = "PRVX"
	fileVersion = uint32(1)
)

func saveEntries(path string, dimensions int, entries []*Entry) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	err = writeEntries(w, dimensions, entries)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

func writeEntries(w io.Writer, dimensions int, entries []*Entry) error {
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return err
	}
	header := []uint32{fileVersion, uint32(dimensions), uint32(len(entries))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeString(w, e.ID); err != nil {
			return err
		}
		if err := writeString(w, e.DocID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, []uint32{uint32(e.ChunkIndex), uint32(len(e.SectionPath))}); err != nil {
			return err
		}
		for _, p := range e.SectionPath {
			if err := writeString(w, p); err != nil {
				return err
			}
		}
		if _, err := w.Write(float32SliceToBytes(e.Vector)); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// loadEntries returns nil, nil when path does not exist.
func loadEntries(path string, dimensions int) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	entries, err := readEntries(bufio.NewReader(f), dimensions)
	if err != nil {
		return nil, fmt.Errorf("read index file %s: %w", path, err)
	}
	return entries, nil
}

func readEntries(r io.Reader, dimensions int) ([]Entry, error) {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if string(magic) != fileMagic {
		return nil, fmt.Errorf("not a vector index file")
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header[0] != fileVersion {
		return nil, fmt.Errorf("unsupported index version %d", header[0])
	}
	if int(header[1]) != dimensions {
		return nil, fmt.Errorf("dimension mismatch: file has %d, index expects %d", header[1], dimensions)
	}
	n := header[2]
	entries := make([]Entry, 0, n)
	buf := make([]byte, dimensions*4)
	for i := uint32(0); i < n; i++ {
		var e Entry
		var err error
		if e.ID, err = readString(r); err != nil {
			return nil, err
		}
		if e.DocID, err = readString(r); err != nil {
			return nil, err
		}
		var meta [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &meta); err != nil {
			return nil, err
		}
		e.ChunkIndex = int(meta[0])
		e.SectionPath = make([]string, meta[1])
		for j := range e.SectionPath {
			if e.SectionPath[j], err = readString(r); err != nil {
				return nil, err
			}
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		e.Vector = bytesToFloat32Slice(buf)
		entries = append(entries, e)
	}
	return entries, nil
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Float32Bytes encodes a vector as little-endian float32s.
func Float32Bytes(s []float32) []byte {
	return float32SliceToBytes(s)
}

// BytesFloat32 decodes little-endian float32s.
func BytesFloat32(b []byte) []float32 {
	return bytesToFloat32Slice(b)
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
