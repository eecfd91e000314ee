package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/shardstream/internal/tensor"
)

// maxHeaderLen bounds the JSON header so a corrupt length prefix cannot
// trigger a huge allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo

	data    []byte
	mmapped bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps a safetensors file read-only and parses its header.
// If mmap is unavailable, it falls back to reading the file into memory.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < 8 {
		return nil, fmt.Errorf("%s: file too short for header", path)
	}
	if size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%s: file too large", path)
	}

	var (
		data    []byte
		mmapped bool
	)
	data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		mmapped = true
	} else {
		data = make([]byte, size)
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, size), data); err != nil {
			return nil, fmt.Errorf("%s: read: %w", path, err)
		}
	}

	file, err := parse(path, data)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	file.data = data
	file.mmapped = mmapped
	return file, nil
}

func parse(path string, data []byte) (*File, error) {
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%s: invalid header length %d", path, headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%s: parse header: %w", path, err)
	}
	delete(raw, "__metadata__")

	dataStart := int64(8 + headerLen)
	dataLen := int64(len(data)) - dataStart
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		info := TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
		if info.Start < 0 || info.End < info.Start || info.End > dataLen {
			return nil, fmt.Errorf("tensor %s: offsets [%d, %d) outside data of %d bytes", name, info.Start, info.End, dataLen)
		}
		tensors[name] = info
	}
	return &File{
		Path:      path,
		DataStart: dataStart,
		Tensors:   tensors,
	}, nil
}

// Close releases the mapping. It is safe to call more than once.
func (f *File) Close() error {
	data := f.data
	f.data = nil
	if f.mmapped && data != nil {
		f.mmapped = false
		return unix.Munmap(data)
	}
	return nil
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Names returns tensor names in on-disk order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		ia, ib := f.Tensors[a], f.Tensors[b]
		if ia.Start != ib.Start {
			if ia.Start < ib.Start {
				return -1
			}
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return names
}

// ReadTensor returns the raw bytes of a tensor. With a mapped file the
// slice aliases the mapping and is only valid until Close.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	if f.data == nil {
		return nil, TensorInfo{}, fmt.Errorf("%s: file closed", f.Path)
	}
	return f.data[f.DataStart+t.Start : f.DataStart+t.End], t, nil
}

// ReadTensorF32 decodes a tensor to a freshly allocated host tensor.
func (f *File) ReadTensorF32(name string) (*tensor.Tensor, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, err
	}
	dt, err := tensor.ParseDType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	n, err := tensor.NumElements(info.Shape)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	if len(raw) != n*dt.Size() {
		return nil, fmt.Errorf("tensor %s: invalid %s data size %d for shape %v", name, dt, len(raw), info.Shape)
	}
	data, err := tensor.Decode(dt, raw)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	t, err := tensor.FromData(info.Shape, data)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	t.DType = dt
	return t, nil
}

// Each decodes every tensor in on-disk order and hands it to fn.
func (f *File) Each(fn func(name string, t *tensor.Tensor) error) error {
	for _, name := range f.Names() {
		t, err := f.ReadTensorF32(name)
		if err != nil {
			return err
		}
		if err := fn(name, t); err != nil {
			return err
		}
	}
	return nil
}

// Entry is one named tensor to write.
type Entry struct {
	Name   string
	Tensor *tensor.Tensor
}

// Write stores entries at dtype d, in the given order.
func Write(path string, entries []Entry, d tensor.DType) (err error) {
	header := make(map[string]any, len(entries))
	var offset int64
	for _, e := range entries {
		if _, dup := header[e.Name]; dup {
			return fmt.Errorf("duplicate tensor %s", e.Name)
		}
		size := int64(e.Tensor.Numel() * d.Size())
		header[e.Name] = tensorHeader{
			DType:       d.SafetensorsName(),
			Shape:       e.Tensor.Shape,
			DataOffsets: []int64{offset, offset + size},
		}
		offset += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	// Pad with spaces so tensor data starts 8-byte aligned.
	if pad := (8 - len(headerBytes)%8) % 8; pad > 0 {
		headerBytes = append(headerBytes, make([]byte, pad)...)
		for i := len(headerBytes) - pad; i < len(headerBytes); i++ {
			headerBytes[i] = ' '
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(out)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	for _, e := range entries {
		raw, err := tensor.Encode(d, e.Tensor.Data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Name, err)
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
	}
	return w.Flush()
}
