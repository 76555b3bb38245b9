package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/lox/era5tools/internal/extract"
	"github.com/lox/era5tools/internal/toolrun"
)

type CheckCmd struct {
	ToolFlags    `embed:""`
	ArchiveFlags `embed:""`

	Field []string `short:"f" help:"Only check these field suffixes."`
	All   bool     `help:"Check every archive instead of only the first and last."`
}

func (c *CheckCmd) Run(app *App) error {
	cat, err := app.loadCatalog()
	if err != nil {
		return err
	}
	fields, err := cat.FieldsFor(c.Field)
	if err != nil {
		return err
	}
	archives, err := c.discover()
	if err != nil {
		return err
	}
	if !c.All && len(archives) > 2 {
		archives = []extract.Archive{archives[0], archives[len(archives)-1]}
	}

	log := app.entry("check")
	tools := c.tools()

	return app.runJob(app.ctx, "check", func(ctx context.Context, runner toolrun.Runner) (int, int, error) {
		var errs *multierror.Error
		failed := 0
		for _, a := range archives {
			if err := ctx.Err(); err != nil {
				return len(archives), failed, multierror.Append(errs, err).ErrorOrNil()
			}

			inv, err := tools.ReadInventory(ctx, runner, a.Path)
			if err == nil && inv != nil {
				err = inv.Check(fields)
			}
			if err != nil {
				failed++
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", a.Path, err))
				log.WithField("archive", a.Path).Warn("check: inventory does not match catalog")
				if app.Globals.FailFast {
					break
				}
				continue
			}
			if inv != nil {
				log.WithField("archive", a.Path).Infof("check: %d fields match (%d records)", len(fields), len(inv))
			}
		}
		return len(archives), failed, errs.ErrorOrNil()
	})
}
