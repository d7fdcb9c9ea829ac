package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/skillsenselab/orbit/process"
	"github.com/skillsenselab/orbit/resilience"
)

// describeManifest is what a provider binary prints on `<binary> describe`.
type describeManifest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// BinaryDiscoverer finds provider binaries under a directory and asks each
// one to describe itself. A binary that fails to describe is a discovery
// error, not a silently skipped entry.
type BinaryDiscoverer struct {
	// Dir is the directory scanned for provider binaries.
	Dir string
	// DescribeTimeout bounds a single describe invocation. Defaults to 5s.
	DescribeTimeout time.Duration
	// Retry controls retries of the describe call. Binaries can be slow to
	// page in on cold start.
	Retry resilience.RetryConfig
}

// NewBinaryDiscoverer creates a discoverer over the given directory.
func NewBinaryDiscoverer(dir string) *BinaryDiscoverer {
	return &BinaryDiscoverer{
		Dir:             dir,
		DescribeTimeout: 5 * time.Second,
		Retry:           resilience.RetryConfig{MaxAttempts: 2},
	}
}

// Discover scans Dir for executables and builds a descriptor per binary.
func (b *BinaryDiscoverer) Discover(ctx context.Context) ([]Descriptor, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", b.Dir, err)
	}

	var out []Descriptor
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		if !isExecutable(info) {
			continue
		}

		path := filepath.Join(b.Dir, entry.Name())
		desc, err := b.describe(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", path, err)
		}
		out = append(out, desc)
	}
	return out, nil
}

func (b *BinaryDiscoverer) describe(ctx context.Context, path string) (Descriptor, error) {
	timeout := b.DescribeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	m, err := resilience.Retry(ctx, b.Retry, func() (describeManifest, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, err := process.Run(callCtx, process.Command{
			Binary: path,
			Args:   []string{"describe"},
		})
		if err != nil {
			return describeManifest{}, err
		}

		var m describeManifest
		if err := json.Unmarshal(res.Stdout, &m); err != nil {
			return describeManifest{}, fmt.Errorf("parse manifest: %w", err)
		}
		return m, nil
	})
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		ID:       m.ID,
		Name:     m.Name,
		Category: Category(m.Category),
		Path:     path,
		Args:     []string{"serve"},
	}, nil
}

func isExecutable(info fs.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
