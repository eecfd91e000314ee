package stage

import (
	"context"
	"errors"

	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/params"
)

// Report is the verification outcome of one stage.
type Report struct {
	Stage ID
	Shard int
	Bytes int64
	Err   error
}

// Verify loads and binds every stage once, releasing each before the next,
// and reports per-stage results. The returned error joins every failure.
func Verify(ctx context.Context, l *Loader) ([]Report, error) {
	ids := Order(l.Config.NumLayers)
	reports := make([]Report, 0, len(ids))
	shell := model.NewBlock(l.Config)
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r := Report{Stage: id, Shard: ShardFor(id, l.Source.Total())}
		var mods []params.Module
		switch id.Kind {
		case KindEmbeddings:
			emb, norm, err := l.Embeddings(ctx)
			r.Err = err
			if err == nil {
				mods = append(mods, emb, norm)
			}
		case KindBlock:
			r.Err = l.Block(ctx, id.Block, shell)
			if r.Err == nil {
				mods = append(mods, shell)
			}
		case KindFinalNorm:
			norm, err := l.FinalNorm(ctx)
			r.Err = err
			if err == nil {
				mods = append(mods, norm)
			}
		case KindHead:
			head, err := l.Head(ctx)
			r.Err = err
			if err == nil {
				mods = append(mods, head)
			}
		}
		for _, m := range mods {
			r.Bytes += params.Footprint(m)
			params.Release(m)
		}
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
		reports = append(reports, r)
	}
	return reports, errors.Join(errs...)
}
