// Package bootstrap turns a plugin tree into the routing tables of one
// bootstrap cycle and collects every startup error along the way.
package bootstrap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"willbot/internal/plugin/discovery"
	logx "willbot/pkg/logx"
)

type Options struct {
	// Dir is the plugin tree root.
	Dir     string
	Loaders []discovery.Loader
	Log     logx.Logger
}

// Result is everything one bootstrap cycle produced. It is owned by the
// caller; workers only receive their own table.
type Result struct {
	CycleID uuid.UUID
	Units   map[string]discovery.Unit
	Tables  *Tables
	Errors  *Errors
	Took    time.Duration
}

// Run discovers and classifies the plugin tree. Plugin failures never make
// Run fail; they are recorded in Result.Errors. An error is returned only
// if the tree root itself cannot be read.
//
// The error list is frozen before Run returns.
func Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	res := &Result{CycleID: uuid.New()}
	log := opts.Log.With(logx.String("cycle", res.CycleID.String()))
	res.Errors = &Errors{log: log}

	log.Info("bootstrapping plugins", logx.String("dir", opts.Dir))
	units, failures, err := discovery.Walk(ctx, opts.Dir, discovery.Options{Loaders: opts.Loaders, Log: log})
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		res.Errors.Add(KindLoad, "loading "+f.Unit, f.Err)
	}

	res.Units = units
	res.Tables = Classify(units, res.Errors, log)
	res.Errors.Freeze()
	res.Took = time.Since(start)

	log.Info("bootstrap done",
		logx.Int("units", len(units)),
		logx.Int("listeners", len(res.Tables.Listeners)),
		logx.Int("periodic", len(res.Tables.Periodic)),
		logx.Int("random", len(res.Tables.Random)),
		logx.Int("routes", len(res.Tables.Routes)),
		logx.Int("errors", res.Errors.Len()),
		logx.Duration("took", res.Took),
	)
	return res, nil
}
