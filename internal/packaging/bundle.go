// Package packaging resolves engine versions and builds the bundles workers
// download to run them.
package packaging

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// ErrModelCount is returned when an engine version does not have 2 or 3 models.
var ErrModelCount = errors.New("engine version must have 2 or 3 models")

// ConfigName is the pipeline configuration file at the bundle root.
const ConfigName = "config.ini"

// Resolved is an engine version together with its models in pipeline order.
type Resolved struct {
	Engine  *model.Engine
	Version *model.EngineVersion
	Models  []*model.Model
}

// Filename encodes {engine}#{version} so workers can tell whether their
// cached copy is current.
func (r *Resolved) Filename() string {
	return r.Engine.Name + "#" + r.Version.Version + ".zip"
}

// DecoderEnabled reports whether the pipeline runs the optional decoder stage.
func (r *Resolved) DecoderEnabled() (bool, error) {
	switch len(r.Models) {
	case 2:
		return false, nil
	case 3:
		return true, nil
	}
	return false, fmt.Errorf("%s has %d models: %w", r.Filename(), len(r.Models), ErrModelCount)
}

// Packager builds bundles from model asset trees stored one directory per
// model name under modelsDir.
type Packager struct {
	store     store.Store
	modelsDir string
}

// New creates a packager.
func New(s store.Store, modelsDir string) *Packager {
	return &Packager{store: s, modelsDir: modelsDir}
}

// ResolveLatestVersion returns the most recently created version of an engine
// and its models.
func (p *Packager) ResolveLatestVersion(ctx context.Context, engineID int64) (*Resolved, error) {
	engine, err := p.store.GetEngine(ctx, engineID)
	if err != nil {
		return nil, fmt.Errorf("engine %d: %w", engineID, err)
	}
	version, err := p.store.LatestEngineVersion(ctx, engineID)
	if err != nil {
		return nil, fmt.Errorf("engine %s has no version: %w", engine.Name, err)
	}
	models, err := p.store.ListVersionModels(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	return &Resolved{Engine: engine, Version: version, Models: models}, nil
}

// Prepare resolves the latest version of an engine and checks that it can be
// packaged, so that callers learn about errors before writing a response.
func (p *Packager) Prepare(ctx context.Context, engineID int64) (*Resolved, error) {
	r, err := p.ResolveLatestVersion(ctx, engineID)
	if err != nil {
		return nil, err
	}
	if _, err := r.DecoderEnabled(); err != nil {
		return nil, err
	}
	for _, m := range r.Models {
		info, err := os.Stat(p.modelDir(m.Name))
		if err != nil {
			return nil, fmt.Errorf("model %s assets: %w", m.Name, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("model %s assets: not a directory", m.Name)
		}
	}
	return r, nil
}

// WriteBundle writes the zip bundle of r to w: one folder per model holding
// its asset tree, plus the generated pipeline configuration.
func (p *Packager) WriteBundle(r *Resolved, w io.Writer) error {
	decoder, err := r.DecoderEnabled()
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, m := range r.Models {
		if _, err := zw.Create(m.Name + "/"); err != nil {
			return fmt.Errorf("add model %s: %w", m.Name, err)
		}
		if err := addTree(zw, p.modelDir(m.Name), m.Name); err != nil {
			return fmt.Errorf("add model %s: %w", m.Name, err)
		}
	}

	cw, err := zw.Create(ConfigName)
	if err != nil {
		return fmt.Errorf("create %s: %w", ConfigName, err)
	}
	if _, err := io.WriteString(cw, PipelineConfig(decoder, r.Models)); err != nil {
		return fmt.Errorf("write %s: %w", ConfigName, err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish bundle: %w", err)
	}
	return nil
}

// PipelineConfig renders the stage header followed by each model's
// configuration in pipeline order.
func PipelineConfig(decoder bool, models []*model.Model) string {
	flag := "disabled"
	if decoder {
		flag = "enabled"
	}

	var b strings.Builder
	b.WriteString("[PAGE_PARSER]\n")
	b.WriteString("RUN_LAYOUT_PARSER = yes\n")
	b.WriteString("RUN_LINE_CROPPER = yes\n")
	b.WriteString("RUN_OCR = yes\n")
	b.WriteString("RUN_DECODER = " + flag + "\n")
	for _, m := range models {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(m.Config, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Packager) modelDir(name string) string {
	return filepath.Join(p.modelsDir, filepath.Base(name))
}

// addTree copies every regular file under root into the zip below prefix.
func addTree(zw *zip.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = path.Join(prefix, filepath.ToSlash(rel))
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}
