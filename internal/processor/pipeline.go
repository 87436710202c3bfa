package processor

import (
	"fmt"
	"io"

	"imagec/internal/command"
	"imagec/internal/enums"
	"imagec/internal/logger"
	"imagec/internal/roi"
	"imagec/internal/settings"

	"github.com/sirupsen/logrus"
)

// pipelineRun is an active pipeline with its commands. Commands keep state
// (loaded models) and are therefore owned by one worker at a time.
type pipelineRun struct {
	idx      int
	pipeline *settings.Pipeline
	commands []command.Command
	names    []string
}

// compile builds the commands of all active pipelines.
func compile(s *settings.AnalyzeSettings) ([]*pipelineRun, error) {
	var runs []*pipelineRun
	for i, p := range s.ActivePipelines() {
		run := &pipelineRun{idx: i, pipeline: p}
		for j := range p.PipelineSteps {
			step := &p.PipelineSteps[j]
			cmd, err := command.Factory(step)
			if err != nil {
				closeAll(runs)
				return nil, fmt.Errorf("pipeline %q step %d: %w", p.Meta.Name, j, err)
			}
			run.commands = append(run.commands, cmd)
			run.names = append(run.names, step.Name())
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func closeAll(runs []*pipelineRun) {
	for _, r := range runs {
		for _, cmd := range r.commands {
			if c, ok := cmd.(io.Closer); ok {
				if err := c.Close(); err != nil {
					logger.WithError(err).Warn("closing command failed")
				}
			}
		}
	}
}

// outputClasses returns the resolved classes the pipeline writes.
func (r *pipelineRun) outputClasses(ctx *ProcessContext) []enums.ClassId {
	var out []enums.ClassId
	for _, in := range r.pipeline.OutputClasses() {
		out = append(out, ctx.ClassId(in))
	}
	return out
}

// execute runs all steps on a copy of the original image of the iteration.
func (r *pipelineRun) execute(ctx *ProcessContext, objects roi.ObjectMap, withControlImage bool) error {
	original, err := ctx.LoadImageFromCache(enums.CurrentImage())
	if err != nil {
		return err
	}
	frame := original.Clone()
	for i, cmd := range r.commands {
		ctx.stepIdx = i
		if err := cmd.Execute(ctx, frame, objects); err != nil {
			return fmt.Errorf("pipeline %q step %d (%s): %w", r.pipeline.Meta.Name, i, r.names[i], err)
		}
	}
	logger.WithFields(logrus.Fields{
		"image":    ctx.image.path,
		"tile":     ctx.tile.String(),
		"pipeline": r.pipeline.Meta.Name,
		"plane":    ctx.plane.String(),
	}).Debug("pipeline finished")

	if !withControlImage {
		return nil
	}
	ctx.stepIdx = len(r.commands)
	path := ctx.ControlImagePath(fmt.Sprintf("p%d_%s_", r.idx, ctx.plane))
	if path == "" {
		return nil
	}
	return command.WriteControlImage(path, frame, objects, r.outputClasses(ctx), ctx.ClassColor)
}
