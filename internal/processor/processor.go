// Package processor runs the pipelines of the analysis settings over a set
// of images. Images are distributed over a worker pool; the tiles of one
// image are processed sequentially, each tile through all (t, z) iterations
// and all pipelines.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"imagec/internal/apperr"
	"imagec/internal/config"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/logger"
	"imagec/internal/metrics"
	"imagec/internal/ome"
	"imagec/internal/reporting"
	"imagec/internal/roi"
	"imagec/internal/settings"
	"imagec/pkg/colorutil"
	"imagec/pkg/geometry"

	"github.com/sirupsen/logrus"
)

// Options are the resource and output switches of a run.
type Options struct {
	Threads             int
	MaxImageBytesAtOnce int64
	TileSize            int
	OutDir              string
	WriteXLSX           bool
	WriteObjects        bool

	// ImageDone is called after every image that was started, with the
	// error it ended with.
	ImageDone func(path string, err error)
}

// OptionsFromConfig takes the run options from the runtime configuration.
func OptionsFromConfig(cfg *config.Config, outDir string) Options {
	return Options{
		Threads:             cfg.Processing.Threads,
		MaxImageBytesAtOnce: cfg.Processing.MaxImageBytesAtOnce,
		TileSize:            cfg.Processing.CompositeTileSize,
		OutDir:              outDir,
		WriteXLSX:           cfg.Output.WriteXLSX,
		WriteObjects:        cfg.Output.WriteObjects,
	}
}

// Summary is the outcome of a run.
type Summary struct {
	NImages          int  `json:"nImages"`
	NImagesProcessed int  `json:"nImagesProcessed"`
	NImagesFailed    int  `json:"nImagesFailed"`
	NTilesFailed     int  `json:"nTilesFailed"`
	Cancelled        bool `json:"cancelled"`
}

// Processor runs one analysis over many images.
type Processor struct {
	settings *settings.AnalyzeSettings
	reader   ImageReader
	metrics  *metrics.Metrics
	opts     Options
	palette  colorutil.Palette
	report   *reporting.Report
}

// New checks the settings and prepares a run.
func New(s *settings.AnalyzeSettings, reader ImageReader, m *metrics.Metrics, opts Options) (*Processor, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	report, err := reporting.NewReport(s)
	if err != nil {
		return nil, apperr.NewConfigurationError("invalid reporting settings", err)
	}
	if m == nil {
		m = metrics.New()
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	palette := colorutil.Palette{}
	for _, cl := range s.Classes {
		if cl.Color == "" {
			continue
		}
		c, err := colorutil.ParseHex(cl.Color)
		if err != nil {
			return nil, apperr.NewConfigurationError(fmt.Sprintf("invalid colour of class %s", cl.Name), err)
		}
		palette[uint16(cl.ClassId)] = c
	}
	return &Processor{settings: s, reader: reader, metrics: m, opts: opts, palette: palette, report: report}, nil
}

// Report returns the all-over report collected so far.
func (p *Processor) Report() *reporting.Report { return p.report }

// ListImages returns the supported images below dir, sorted by path.
func ListImages(dir string) ([]string, error) {
	var images []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if img.IsSupportedFormat(path) {
			images = append(images, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.NewResourceError(fmt.Sprintf("cannot list images in %s", dir), err)
	}
	sort.Strings(images)
	return images, nil
}

// ImageFolders returns the output folder name of every image: its file name
// without extension, made unique with a counter.
func ImageFolders(images []string) []string {
	used := map[string]int{}
	out := make([]string, len(images))
	for i, path := range images {
		base := filepath.Base(path)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		out[i] = name
	}
	return out
}

// Run processes images and writes the all-over report. Cancelling ctx stops
// the run between images and between tiles; the images finished so far are
// still reported.
func (p *Processor) Run(ctx context.Context, images []string) (Summary, error) {
	p.metrics.ImagesTotal.Store(uint64(len(images)))
	if err := os.MkdirAll(p.opts.OutDir, 0755); err != nil {
		return Summary{NImages: len(images)}, apperr.NewResourceError("cannot create results folder", err)
	}

	runners := make([][]*pipelineRun, 0, p.opts.Threads)
	for i := 0; i < p.opts.Threads; i++ {
		runs, err := compile(p.settings)
		if err != nil {
			for _, r := range runners {
				closeAll(r)
			}
			return Summary{NImages: len(images)}, err
		}
		runners = append(runners, runs)
	}

	logger.WithFields(logrus.Fields{
		"images":  len(images),
		"threads": p.opts.Threads,
		"out":     p.opts.OutDir,
	}).Info("run started")

	folders := ImageFolders(images)
	pool := NewImagePool(ctx, runners, p.runImage)
	for i, path := range images {
		if err := pool.Submit(ctx, ImageJob{Path: path, Folder: folders[i]}); err != nil {
			break
		}
	}
	pool.Close()
	for _, r := range runners {
		closeAll(r)
	}

	cancelled := ctx.Err() != nil
	p.metrics.Cancelled.Store(cancelled)
	summary := Summary{
		NImages:          len(images),
		NImagesProcessed: int(p.metrics.ImagesProcessed.Load()),
		NImagesFailed:    int(p.metrics.ImagesFailed.Load()),
		NTilesFailed:     int(p.metrics.TilesFailed.Load()),
		Cancelled:        cancelled,
	}
	if err := p.report.Write(p.opts.OutDir); err != nil {
		return summary, apperr.NewResourceError("cannot write report", err)
	}
	logger.WithFields(logrus.Fields{
		"processed": summary.NImagesProcessed,
		"failed":    summary.NImagesFailed,
		"cancelled": summary.Cancelled,
	}).Info("run finished")
	return summary, nil
}

func (p *Processor) runImage(ctx context.Context, job ImageJob, runs []*pipelineRun) {
	start := time.Now()
	path := job.Path
	log := logger.WithField("image", filepath.Base(path))
	dir := filepath.Join(p.opts.OutDir, job.Folder)

	res, err := p.processAndWrite(ctx, path, dir, runs)
	switch {
	case err == nil:
		n := res.Objects.Count()
		p.metrics.ImagesProcessed.Add(1)
		p.metrics.RoisFound.Add(uint64(n))
		p.report.AddResult(res)
		log.WithFields(logrus.Fields{
			"rois":        n,
			"tilesFailed": res.TilesFailed,
			"duration":    time.Since(start).String(),
		}).Info("image processed")
	case errors.Is(err, apperr.ErrCancelled):
		os.RemoveAll(dir)
		log.Info("image cancelled")
	default:
		os.RemoveAll(dir)
		p.metrics.ImagesFailed.Add(1)
		p.report.AddFailed(path)
		log.WithError(err).WithField("type", apperr.TypeOf(err)).Error("image failed")
	}
	p.metrics.ImageDurationMs.Add(uint64(time.Since(start).Milliseconds()))
	if p.opts.ImageDone != nil {
		p.opts.ImageDone(path, err)
	}
}

// processAndWrite processes one image and writes its results. A panic in a
// command or codec fails the image instead of the run.
func (p *Processor) processAndWrite(ctx context.Context, path, dir string, runs []*pipelineRun) (res *reporting.ImageResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithFields(logrus.Fields{
				"image": filepath.Base(path),
				"panic": rec,
				"stack": string(debug.Stack()),
			}).Error("image panicked")
			res, err = nil, apperr.NewProcessingError(fmt.Sprintf("panic: %v", rec), nil)
		}
	}()
	res, err = p.processImage(ctx, path, dir, runs)
	if err == nil {
		err = p.writeImage(dir, res)
	}
	return res, err
}

// processImage runs all tiles of one image. Objects are returned in image
// coordinates.
func (p *Processor) processImage(ctx context.Context, path, dir string, runs []*pipelineRun) (*reporting.ImageResult, error) {
	info, err := p.reader.GetOmeInformation(path, ome.PhysicalSize{})
	if err != nil {
		return nil, err
	}
	series := info.SeriesWithHighestResolution()
	lvl, err := info.Resolution(series, 0)
	if err != nil {
		return nil, apperr.NewDecodeError("missing full resolution", err)
	}
	nT := max(info.NrOfTStacks(series), 1)
	nZ := max(info.NrOfZStacks(series), 1)
	nC := max(info.NrOfChannels(series), 1)
	if err := checkStacks(runs, nT, nZ, nC); err != nil {
		return nil, err
	}

	plan := NewTilePlan(lvl, p.opts.MaxImageBytesAtOnce, p.opts.TileSize)
	run := &imageRun{
		path:   path,
		info:   info,
		series: series,
		size:   geometry.Size{Width: lvl.ImageWidth, Height: lvl.ImageHeight},
		nrZ:    nZ,
		memory: map[enums.MemoryIdx]memorySlot{},
	}
	if p.settings.Options.WithControlImages {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperr.NewResourceError("cannot create image folder", err)
		}
		run.controlDir = dir
	}

	res := &reporting.ImageResult{
		Path:     path,
		Size:     run.size,
		TileSize: plan.TileSize(),
		Objects:  roi.NewObjectMap(),
	}
	for n := 0; n < plan.Count(); n++ {
		if ctx.Err() != nil {
			return nil, apperr.ErrCancelled
		}
		tile := plan.Tile(n)
		objects, err := p.processTile(ctx, run, tile, n, runs, nT, nZ)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.ErrCancelled
			}
			if apperr.IsType(err, apperr.ErrorTypeProcessing) {
				res.TilesFailed++
				p.metrics.TilesFailed.Add(1)
				logger.WithFields(logrus.Fields{
					"image": filepath.Base(path),
					"tile":  tile.String(),
				}).WithError(err).Warn("tile skipped")
				continue
			}
			return nil, err
		}
		x, y := tile.Offset()
		for _, class := range objects.Classes() {
			objects[class].Translate(x, y)
		}
		res.Objects.Merge(objects)
		p.metrics.TilesProcessed.Add(1)
	}
	return res, nil
}

// processTile runs every (t, z) iteration of one tile through all pipelines.
// The pipelines of one iteration share their objects; scratch classes are
// dropped when the iteration ends.
func (p *Processor) processTile(ctx context.Context, run *imageRun, tile enums.TileId, tileNr int, runs []*pipelineRun, nT, nZ int) (roi.ObjectMap, error) {
	iterT, iterZ := 1, 1
	for _, r := range runs {
		s := r.pipeline.PipelineSetup
		iterT = max(iterT, stackIterations(s.TStackHandling, nT))
		iterZ = max(iterZ, stackIterations(s.ZStackHandling, nZ))
	}

	pc := newProcessContext(ctx, p.reader, run, p.palette, tile, tileNr)
	objects := roi.NewObjectMap()
	for ti := 0; ti < iterT; ti++ {
		for zi := 0; zi < iterZ; zi++ {
			iteration := roi.NewObjectMap()
			for _, r := range runs {
				s := r.pipeline.PipelineSetup
				t, okT := stackIndex(s.TStackHandling, s.TStackIndex, ti)
				z, okZ := stackIndex(s.ZStackHandling, s.ZStackIndex, zi)
				if !okT || !okZ {
					continue
				}
				pc.enterPipeline(r.idx, s, enums.PlaneId{TStack: t, ZStack: z, CStack: s.CStackIndex})
				if err := r.execute(pc, iteration, p.settings.Options.WithControlImages); err != nil {
					return nil, err
				}
			}
			for _, class := range iteration.Classes() {
				if class.IsTemporary() {
					iteration.Erase(class)
				}
			}
			objects.Merge(iteration)
			pc.EndIteration()
		}
	}
	return objects, nil
}

// writeImage writes the per image outputs into dir.
func (p *Processor) writeImage(dir string, res *reporting.ImageResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperr.NewResourceError("cannot create image folder", err)
	}
	if p.settings.Options.WithDetailedReport {
		if err := reporting.WriteDetail(dir, res, p.settings, p.opts.WriteXLSX); err != nil {
			return apperr.NewResourceError("cannot write detail report", err)
		}
	}
	if p.opts.WriteObjects {
		if err := res.Objects.Flatten().WriteFile(filepath.Join(dir, "objects.jobj")); err != nil {
			return apperr.NewResourceError("cannot write objects", err)
		}
	}
	if p.settings.Reporting.Heatmap.GenerateHeatmapForImage {
		if err := reporting.WriteImageHeatmap(p.opts.OutDir, res, p.settings); err != nil {
			return apperr.NewResourceError("cannot write image heatmap", err)
		}
	}
	return nil
}
