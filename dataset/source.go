package dataset

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Source yields records until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (Record, error)
}

// SliceSource serves records from memory.
type SliceSource struct {
	mu      sync.Mutex
	records []Record
	pos     int
}

func NewSliceSource(records ...Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.records) {
		return Record{}, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

// Sidecar is the yaml document stored next to each image. Image and mask
// paths are relative to the sidecar.
//
//	image: 0001.jpg
//	mask: 0001_mask.png
//	lens:
//	  projection: EQUISOLID
//	  focal_length: 420
//	  fov: 3.14
//	mesh:
//	  height: 1.2
//	  orientation: [[1, 0, 0], [0, 1, 0], [0, 0, 1]]
type Sidecar struct {
	Image string `yaml:"image"`
	Mask  string `yaml:"mask"`
	Lens  struct {
		Projection  string  `yaml:"projection"`
		FocalLength float64 `yaml:"focal_length"`
		FOV         float64 `yaml:"fov"`
	} `yaml:"lens"`
	Mesh struct {
		Orientation [3][3]float64 `yaml:"orientation"`
		Height      float64       `yaml:"height"`
	} `yaml:"mesh"`
}

// ParseSidecar decodes a sidecar document.
func ParseSidecar(data []byte) (Sidecar, error) {
	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Sidecar{}, errors.Wrap(err, "parsing sidecar")
	}
	if sc.Image == "" || sc.Mask == "" {
		return Sidecar{}, errors.New("sidecar must name both image and mask")
	}
	return sc, nil
}

func (sc Sidecar) record(name string, image, mask []byte) Record {
	return Record{
		Name:        name,
		Image:       image,
		Mask:        mask,
		Projection:  sc.Lens.Projection,
		FocalLength: sc.Lens.FocalLength,
		FOV:         sc.Lens.FOV,
		Orientation: sc.Mesh.Orientation,
		Height:      sc.Mesh.Height,
	}
}

func isSidecar(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// DirSource reads every sidecar under a directory tree in lexical order.
type DirSource struct {
	fsys  fs.FS
	mu    sync.Mutex
	paths []string
	pos   int
}

// NewDirSource walks dir for sidecar files.
func NewDirSource(dir string) (*DirSource, error) {
	return NewFSSource(os.DirFS(dir))
}

// NewFSSource walks fsys for sidecar files.
func NewFSSource(fsys fs.FS) (*DirSource, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isSidecar(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing records")
	}
	sort.Strings(paths)
	return &DirSource{fsys: fsys, paths: paths}, nil
}

// Len is the number of sidecars found.
func (s *DirSource) Len() int { return len(s.paths) }

func (s *DirSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	if s.pos >= len(s.paths) {
		s.mu.Unlock()
		return Record{}, io.EOF
	}
	p := s.paths[s.pos]
	s.pos++
	s.mu.Unlock()

	data, err := fs.ReadFile(s.fsys, p)
	if err != nil {
		return Record{}, errors.Wrapf(err, "reading %s", p)
	}
	sc, err := ParseSidecar(data)
	if err != nil {
		return Record{}, errors.Wrapf(err, "%s", p)
	}
	dir := path.Dir(p)
	image, err := fs.ReadFile(s.fsys, path.Join(dir, sc.Image))
	if err != nil {
		return Record{}, errors.Wrapf(err, "%s: reading image", p)
	}
	mask, err := fs.ReadFile(s.fsys, path.Join(dir, sc.Mask))
	if err != nil {
		return Record{}, errors.Wrapf(err, "%s: reading mask", p)
	}
	return sc.record(strings.TrimSuffix(p, path.Ext(p)), image, mask), nil
}
