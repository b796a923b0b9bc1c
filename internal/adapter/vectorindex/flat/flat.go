// Package flat provides an exact in-process vector index persisted to a
// single binary file.
package flat

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

const (
	fileMagic   = "SQFX"
	fileVersion = uint32(1)
)

// Index is a brute-force L2 index. Scores returned by Search are squared
// Euclidean distances, lower is closer. Entries keep their insertion order,
// which breaks ties between equal distances.
type Index struct {
	path      string
	model     string
	dimension int

	mu       sync.RWMutex
	ids      []string
	vectors  [][]float32
	metadata []map[string]string
	position map[string]int
}

var (
	_ port.VectorIndex    = (*Index)(nil)
	_ port.VectorExporter = (*Index)(nil)
	_ port.IDLister       = (*Index)(nil)
	_ port.Persister      = (*Index)(nil)
)

// New creates an empty index that saves to path.
func New(path string, dimension int, model string) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", domain.ErrConfiguration)
	}
	return &Index{
		path:      path,
		model:     model,
		dimension: dimension,
		position:  make(map[string]int),
	}, nil
}

// Open loads the index at path. The file must exist and match the given
// dimension and embedding model; any failure is fatal for the caller.
func Open(path string, dimension int, model string) (*Index, error) {
	idx, err := New(path, dimension, model)
	if err != nil {
		return nil, err
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

// OpenOrCreate loads the index at path, or returns an empty one when the
// file does not exist yet.
func OpenOrCreate(path string, dimension int, model string) (*Index, error) {
	idx, err := Open(path, dimension, model)
	if errors.Is(err, os.ErrNotExist) {
		return New(path, dimension, model)
	}
	return idx, err
}

// Upsert adds or replaces vectors. The whole batch is validated before any
// entry is written.
func (x *Index) Upsert(_ context.Context, items []port.VectorItem) error {
	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: vector id is required", domain.ErrValidation)
		}
		if len(item.Vector) != x.dimension {
			return fmt.Errorf("vector %s has %d values, index expects %d: %w", item.ID, len(item.Vector), x.dimension, domain.ErrDimensionMismatch)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, item := range items {
		vec := make([]float32, x.dimension)
		copy(vec, item.Vector)
		if pos, ok := x.position[item.ID]; ok {
			x.vectors[pos] = vec
			x.metadata[pos] = item.Metadata
			continue
		}
		x.position[item.ID] = len(x.ids)
		x.ids = append(x.ids, item.ID)
		x.vectors = append(x.vectors, vec)
		x.metadata = append(x.metadata, item.Metadata)
	}
	return nil
}

// Search returns the k closest vectors by squared L2 distance.
func (x *Index) Search(_ context.Context, query []float32, k int) ([]port.VectorResult, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query has %d values, index expects %d: %w", len(query), x.dimension, domain.ErrDimensionMismatch)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.ids) == 0 {
		return nil, nil
	}

	type scored struct {
		pos  int
		dist float64
	}
	scores := make([]scored, len(x.ids))
	for i, vec := range x.vectors {
		scores[i] = scored{pos: i, dist: squaredL2(query, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })

	if k > len(scores) {
		k = len(scores)
	}
	results := make([]port.VectorResult, k)
	for i := 0; i < k; i++ {
		pos := scores[i].pos
		results[i] = port.VectorResult{
			ID:       x.ids[pos],
			Score:    scores[i].dist,
			Metadata: x.metadata[pos],
		}
	}
	return results, nil
}

func (x *Index) DeleteAll(_ context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids = nil
	x.vectors = nil
	x.metadata = nil
	x.position = make(map[string]int)
	return nil
}

func (x *Index) Count(_ context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids), nil
}

func (x *Index) Metric() port.Metric { return port.MetricL2 }

func (x *Index) Dimension() int { return x.dimension }

// Export returns copies of every entry in insertion order.
func (x *Index) Export(_ context.Context) ([]port.VectorItem, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	items := make([]port.VectorItem, len(x.ids))
	for i, id := range x.ids {
		vec := make([]float32, x.dimension)
		copy(vec, x.vectors[i])
		items[i] = port.VectorItem{ID: id, Vector: vec, Metadata: x.metadata[i]}
	}
	return items, nil
}

func (x *Index) ListIDs(_ context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]string(nil), x.ids...), nil
}

// Save writes the index to its path through a temp file and rename.
// Format: magic (4), version (4), dimension (4), model length (4), model,
// count (4), then per entry: id length (4), id, dimension*4 bytes of vector.
func (x *Index) Save() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(x.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := x.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := x.write(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, x.path)
}

func (x *Index) write(w io.Writer) error {
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []uint32{fileVersion, uint32(x.dimension), uint32(len(x.model))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := io.WriteString(w, x.model); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(x.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	buf := make([]byte, x.dimension*4)
	for i, id := range x.ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := io.WriteString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		for j, v := range x.vectors[i] {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

func (x *Index) load() error {
	f, err := os.Open(x.path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != fileMagic {
		return fmt.Errorf("%s is not a flat index file: %w", x.path, domain.ErrConfiguration)
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if header[0] != fileVersion {
		return fmt.Errorf("unsupported index file version %d: %w", header[0], domain.ErrConfiguration)
	}
	if int(header[1]) != x.dimension {
		return fmt.Errorf("index file has dimension %d, expected %d: %w", header[1], x.dimension, domain.ErrDimensionMismatch)
	}
	model := make([]byte, header[2])
	if _, err := io.ReadFull(r, model); err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	if x.model != "" && len(model) > 0 && string(model) != x.model {
		return fmt.Errorf("index was built with model %q, configured model is %q: %w", model, x.model, domain.ErrConfiguration)
	}
	if x.model == "" {
		x.model = string(model)
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids = make([]string, 0, n)
	x.vectors = make([][]float32, 0, n)
	x.metadata = make([]map[string]string, 0, n)
	x.position = make(map[string]int, n)
	buf := make([]byte, x.dimension*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		vec := make([]float32, x.dimension)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		id := string(idBytes)
		if _, dup := x.position[id]; dup {
			return fmt.Errorf("duplicate id %s in index file: %w", id, domain.ErrIntegrity)
		}
		x.position[id] = len(x.ids)
		x.ids = append(x.ids, id)
		x.vectors = append(x.vectors, vec)
		x.metadata = append(x.metadata, nil)
	}
	return nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
