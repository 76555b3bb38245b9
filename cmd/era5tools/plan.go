package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/lox/era5tools/internal/pca"
)

type PlanCmd struct {
	InputDir   string `arg:"" name:"input-dir" help:"Directory of netCDF samples for one variable."`
	BatchSize  int    `short:"b" help:"Samples per partial fit." default:"1024" env:"ERA5_BATCH_SIZE"`
	Components int    `short:"n" help:"Components to fit." default:"50" env:"ERA5_COMPONENTS"`
}

func (c *PlanCmd) Run(app *App) error {
	params := pca.Params{Mode: pca.ModeIncremental, BatchSize: c.BatchSize, Components: c.Components}
	if err := params.Validate(); err != nil {
		return err
	}

	inputs, err := pca.ListInputs(c.InputDir)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w in %s", pca.ErrNoInputs, c.InputDir)
	}
	if len(inputs) < params.EffectiveComponents() {
		return fmt.Errorf("%w: %d samples, %d components", pca.ErrTooFewSamples, len(inputs), params.EffectiveComponents())
	}

	t := newTable(app.Out, table.Row{"Batch", "Samples", "First", "Last"})
	for _, b := range pca.PlanBatches(len(inputs), c.BatchSize, params.EffectiveComponents()) {
		t.AppendRow(table.Row{b.Index, b.Size(), inputs[b.Start].Timestamp, inputs[b.End-1].Timestamp})
	}
	t.Render()
	return nil
}
