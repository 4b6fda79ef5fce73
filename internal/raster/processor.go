// Package raster turns raw crop job downloads into corrected GeoTIFFs:
// unit conversion, the optional dekad day factor and the optional cutline
// clip.
package raster

import (
	"bytes"
	"errors"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/spf13/afero"

	"wapor-downloader/internal/logging"
	"wapor-downloader/pkg/geotiff"
)

// Options describes how one downloaded raster is corrected and written
type Options struct {
	// Multiplier converts stored values to physical units
	Multiplier float64
	// CumulativeDekad scales rates by the number of days in TimeCode
	CumulativeDekad bool
	TimeCode        string

	// OutputPath is where the corrected file ends up
	OutputPath string

	// Cutline, when set, clips the output (all-touched)
	Cutline orb.MultiPolygon

	// Mask, when set, restricts the multiplier to values below its threshold
	Mask *Mask
}

// Processor writes corrected rasters to a filesystem
type Processor struct {
	fs      afero.Fs
	logger  *logging.Logger
	encoder *geotiff.Options
}

// NewProcessor creates a processor writing through fs
func NewProcessor(fs afero.Fs, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Processor{
		fs:      fs,
		logger:  logger,
		encoder: &geotiff.Options{Deflate: true, FloatPredictor: true, RowsPerStrip: 256},
	}
}

// CorrectAndSave stores raw next to the output as raw_{name}, corrects it and
// writes the result to opts.OutputPath. The raw file is always removed.
func (p *Processor) CorrectAndSave(raw []byte, opts Options) error {
	dir, name := filepath.Split(opts.OutputPath)
	rawPath := filepath.Join(dir, "raw_"+name)

	if err := afero.WriteFile(p.fs, rawPath, raw, 0o644); err != nil {
		return &Error{Op: "write raw", Path: rawPath, Err: err}
	}
	defer func() {
		if err := p.fs.Remove(rawPath); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
			p.logger.Warn("failed to remove raw file", "path", rawPath, "err", err)
		}
	}()

	data, err := afero.ReadFile(p.fs, rawPath)
	if err != nil {
		return &Error{Op: "read raw", Path: rawPath, Err: err}
	}
	r, err := geotiff.DecodeBytes(data)
	if err != nil {
		return &Error{Op: "decode", Path: rawPath, Err: err}
	}

	factor, err := DayFactor(opts.TimeCode, opts.CumulativeDekad)
	if err != nil {
		return &Error{Op: "day factor", Path: opts.OutputPath, Err: err}
	}
	multiplier := opts.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}
	Correct(r, multiplier*factor, opts.Mask)

	if err := p.write(opts.OutputPath, r); err != nil {
		return err
	}
	p.logger.Debug("raster corrected", "path", opts.OutputPath, "factor", multiplier*factor,
		"size", humanize.Bytes(uint64(len(raw))), "epsg", r.GeoKeys.EPSG())

	if len(opts.Cutline) == 0 {
		return nil
	}
	return p.clip(opts.OutputPath, r, opts.Cutline)
}

// clip writes Clip{name} beside the output, then replaces the output with it
func (p *Processor) clip(outputPath string, r *geotiff.Raster, cutline orb.MultiPolygon) error {
	dir, name := filepath.Split(outputPath)
	clipPath := filepath.Join(dir, "Clip"+name)

	clipped, err := Clip(r, cutline)
	if err != nil {
		return &Error{Op: "clip", Path: outputPath, Err: err}
	}
	if err := p.write(clipPath, clipped); err != nil {
		return err
	}
	if err := p.fs.Remove(outputPath); err != nil {
		return &Error{Op: "remove unclipped", Path: outputPath, Err: err}
	}
	if err := p.fs.Rename(clipPath, outputPath); err != nil {
		return &Error{Op: "rename clip", Path: clipPath, Err: err}
	}
	return nil
}

func (p *Processor) write(path string, r *geotiff.Raster) error {
	var buf bytes.Buffer
	if err := geotiff.Encode(&buf, r, p.encoder); err != nil {
		return &Error{Op: "encode", Path: path, Err: err}
	}
	if err := afero.WriteFile(p.fs, path, buf.Bytes(), 0o644); err != nil {
		return &Error{Op: "write", Path: path, Err: err}
	}
	return nil
}
