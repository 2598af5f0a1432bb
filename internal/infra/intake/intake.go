// Package intake turns bundle manifests dropped into a directory into bundle
// pushes. The scanning station writes one JSON manifest per scanned bundle;
// the watcher classifies each image from its corner codes or explicit
// assignment and pushes the result through the ingestion service. Processed
// manifests are renamed in place so a restart never replays them.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/infra/markers"
	"github.com/markflow/markflow/pkg/common/logger"
)

const (
	doneSuffix   = ".done"
	failedSuffix = ".failed"

	// sweepConcurrency bounds how many leftover manifests the startup sweep
	// pushes at once.
	sweepConcurrency = 4
)

// BundlePusher is the slice of the ingestion service the watcher drives.
type BundlePusher interface {
	PushBundle(ctx context.Context, bundle *papers.Bundle) error
}

// manifest is the wire shape of one dropped bundle.
type manifest struct {
	Name   string          `json:"name"`
	Hash   string          `json:"hash"`
	Images []manifestImage `json:"images"`
}

type manifestImage struct {
	Order    int      `json:"order"`
	Hash     string   `json:"hash"`
	Rotation int      `json:"rotation"`

	// Codes are the corner codes read off the image; they decode to a fixed
	// page position. Images with an explicit assignment below carry none.
	Codes []string `json:"codes,omitempty"`

	// Confidence is how sure the marker reader was about the decode, in
	// [0, 1]. Absent means no prediction.
	Confidence float64 `json:"confidence,omitempty"`

	// Extra assigns the image to a paper's questions instead of a fixed
	// position.
	Extra *extraAssignment `json:"extra,omitempty"`

	// Discard retracts the image with a reason.
	Discard string `json:"discard,omitempty"`
}

type extraAssignment struct {
	Paper     int   `json:"paper"`
	Questions []int `json:"questions"`
}

// Watcher watches a drop directory and pushes every manifest that appears.
type Watcher struct {
	dir     string
	pusher  BundlePusher
	decoder *markers.Decoder
	watcher *fsnotify.Watcher
	logger  *logger.Logger
}

// NewWatcher creates the drop directory if needed and starts watching it.
// Run must be called to begin processing.
func NewWatcher(dir string, pusher BundlePusher, logger *logger.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating intake directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching intake directory: %w", err)
	}
	return &Watcher{
		dir:     dir,
		pusher:  pusher,
		decoder: markers.NewDecoder(),
		watcher: fsw,
		logger:  logger.With("component", "intake_watcher"),
	}, nil
}

// Run sweeps manifests already in the directory, then processes new ones as
// they appear until the context is cancelled. A manifest that fails to push
// is renamed aside and never blocks the ones behind it.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	if err := w.sweep(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !isManifest(event.Name) {
				continue
			}
			w.process(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(ctx, "Watch error", "error", err)
		}
	}
}

// sweep pushes manifests left over from before the watcher started.
func (w *Watcher) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("listing intake directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		g.Go(func() error {
			w.process(ctx, path)
			return nil
		})
	}
	return g.Wait()
}

func (w *Watcher) process(ctx context.Context, path string) {
	logger := w.logger.With("manifest", filepath.Base(path))

	bundle, err := w.load(path)
	if err == nil {
		err = w.pusher.PushBundle(ctx, bundle)
	}
	if err != nil {
		logger.Error(ctx, "Manifest rejected", "error", err)
		w.setAside(ctx, logger, path, failedSuffix)
		return
	}

	logger.Info(ctx, "Bundle pushed from manifest", "bundle_id", bundle.ID(), "images", len(bundle.Staged()))
	w.setAside(ctx, logger, path, doneSuffix)
}

// load parses a manifest file into a domain bundle.
func (w *Watcher) load(path string) (*papers.Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if m.Hash == "" {
		sum := sha256.Sum256(data)
		m.Hash = hex.EncodeToString(sum[:])
	}

	staged := make([]papers.StagedImage, 0, len(m.Images))
	for i, img := range m.Images {
		order := img.Order
		if order == 0 {
			order = i + 1
		}
		s, err := w.classify(order, img)
		if err != nil {
			return nil, err
		}
		staged = append(staged, s)
	}
	return papers.NewBundle(m.Name, m.Hash, staged), nil
}

// classify maps one manifest image to its staged class. Explicit assignments
// win; anything else must carry decodable corner codes.
func (w *Watcher) classify(order int, img manifestImage) (papers.StagedImage, error) {
	switch {
	case img.Discard != "":
		return papers.NewDiscardStaged(order, img.Hash, img.Rotation, img.Discard), nil
	case img.Extra != nil:
		return papers.NewExtraStaged(order, img.Hash, img.Rotation, img.Extra.Paper, img.Extra.Questions), nil
	default:
		marker, err := w.decoder.Reconcile(img.Codes)
		if err != nil {
			return papers.StagedImage{}, fmt.Errorf("image %d: %w", order, err)
		}
		return papers.NewKnownStaged(order, img.Hash, img.Rotation, papers.KnownRef{
			Paper:   marker.Paper,
			Page:    marker.Page,
			Version: marker.Version,
		}).WithConfidence(img.Confidence), nil
	}
}

func (w *Watcher) setAside(ctx context.Context, logger *logger.Logger, path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		logger.Error(ctx, "Failed to rename processed manifest", "error", err)
	}
}

func isManifest(path string) bool {
	return filepath.Ext(path) == ".json"
}
