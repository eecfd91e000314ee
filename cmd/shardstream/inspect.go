package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/stage"
	"github.com/samcharles93/shardstream/internal/tensor"
)

func inspectCmd() *cli.Command {
	var verify bool

	return &cli.Command{
		Name:  "inspect",
		Usage: "List the shards of a model directory and the stages they hold",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{
				Name:        "verify",
				Usage:       "load and bind every stage to check its keys and shapes",
				Destination: &verify,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			dir, err := resolveModelDir(modelDir)
			if err != nil {
				return err
			}
			cfg, err := model.LoadConfig(dir)
			if err != nil {
				return err
			}
			format, err := shard.ParseFormat(shardFormat)
			if err != nil {
				return err
			}
			store, err := shard.Open(shard.Layout{Dir: dir, Total: cfg.TotalShards(), Format: format})
			if err != nil {
				return err
			}

			fmt.Printf("model:  %s\n", dir)
			fmt.Printf("config: blocks=%d hidden=%d heads=%d vocab=%d eps=%g\n",
				cfg.NumLayers, cfg.HiddenSize, cfg.NumHeads, cfg.VocabSize, cfg.LayerNormEps)
			fmt.Printf("shards: %d (%s)\n\n", store.Total(), store.Layout().Format)
			if err := writeShardTable(ctx, os.Stdout, store, cfg); err != nil {
				return err
			}
			if !verify {
				return nil
			}

			dt, err := tensor.ParseDType(dtypeName)
			if err != nil {
				return err
			}
			loader, err := stage.NewLoader(store, cfg, tensor.CPU(dt))
			if err != nil {
				return err
			}
			reports, verr := stage.Verify(ctx, loader)
			fmt.Println()
			writeVerifyTable(os.Stdout, reports)
			return verr
		},
	}
}

// stagesIn names the stages read from shard index.
func stagesIn(index int, cfg model.Config) string {
	var names []string
	for _, id := range stage.Order(cfg.NumLayers) {
		if stage.ShardFor(id, cfg.TotalShards()) == index {
			names = append(names, id.String())
		}
	}
	return strings.Join(names, ", ")
}

func writeShardTable(ctx context.Context, w io.Writer, store *shard.Store, cfg model.Config) error {
	var data [][]string
	for i := 1; i <= store.Total(); i++ {
		info, err := store.Stat(i)
		if err != nil {
			return err
		}
		n, err := store.Count(ctx, i)
		if err != nil {
			return err
		}
		data = append(data, []string{
			strconv.Itoa(i),
			stagesIn(i, cfg),
			filepath.Base(info.Path),
			humanBytes(info.Size),
			strconv.Itoa(n),
		})
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"SHARD", "STAGES", "FILE", "SIZE", "TENSORS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func writeVerifyTable(w io.Writer, reports []stage.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"STAGE", "SHARD", "PARAMS", "STATUS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, r := range reports {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		table.Append([]string{r.Stage.String(), strconv.Itoa(r.Shard), humanBytes(r.Bytes), status})
	}
	table.Render()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
