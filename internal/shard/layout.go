package shard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Format is the on-disk encoding of the shard files.
type Format string

const (
	FormatAuto        Format = "auto"
	FormatBin         Format = "bin"
	FormatSafetensors Format = "safetensors"
)

// ParseFormat accepts auto, bin and safetensors.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatBin, FormatSafetensors:
		return f, nil
	default:
		return "", fmt.Errorf("unknown shard format %q (want auto, bin or safetensors)", s)
	}
}

// Layout names the shard files of one model directory.
type Layout struct {
	Dir    string
	Total  int
	Format Format
}

// Path renders the fixed zero-padded file name of shard i.
func (l Layout) Path(i int) string {
	var name string
	switch l.Format {
	case FormatSafetensors:
		name = fmt.Sprintf("model-%05d-of-%05d.safetensors", i, l.Total)
	default:
		name = fmt.Sprintf("pytorch_model_%05d-of-%05d.bin", i, l.Total)
	}
	return filepath.Join(l.Dir, name)
}

// Resolve replaces FormatAuto with the format whose first shard exists,
// preferring safetensors.
func (l Layout) Resolve() (Layout, error) {
	if l.Total < 1 {
		return l, fmt.Errorf("shard layout: total %d must be positive", l.Total)
	}
	if l.Format != FormatAuto && l.Format != "" {
		return l, nil
	}
	for _, f := range []Format{FormatSafetensors, FormatBin} {
		candidate := Layout{Dir: l.Dir, Total: l.Total, Format: f}
		if _, err := os.Stat(candidate.Path(1)); err == nil {
			return candidate, nil
		}
	}
	return l, &StorageError{
		Shard: 1,
		Path:  l.Dir,
		Err:   fmt.Errorf("no bin or safetensors shards of %d found: %w", l.Total, fs.ErrNotExist),
	}
}

// Validate checks that every shard file exists and is a regular file.
func (l Layout) Validate() error {
	var errs []error
	for i := 1; i <= l.Total; i++ {
		path := l.Path(i)
		st, err := os.Stat(path)
		switch {
		case err != nil:
			errs = append(errs, &StorageError{Shard: i, Path: path, Err: err})
		case !st.Mode().IsRegular():
			errs = append(errs, &StorageError{Shard: i, Path: path, Err: errors.New("not a regular file")})
		}
	}
	return errors.Join(errs...)
}
