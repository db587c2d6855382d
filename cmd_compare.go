package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/chaos-io/bgcompare/metrics"
	"github.com/chaos-io/bgcompare/rembg"
	"github.com/chaos-io/bgcompare/store"
	"github.com/chaos-io/bgcompare/util"
)

var errNoToken = errors.New("replicate API key not provided (use --token, a stored key or REPLICATE_API_KEY)")

func newCompareCommand(ctx *commandContext) *cobra.Command {
	var (
		input    string
		models   []string
		asJSON   bool
		saveName string
		category string
		notes    string
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run every registered model on one image and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := rembg.NewRegistry(cfg.Models)
			if err != nil {
				return err
			}
			selected, err := registry.Select(models)
			if err != nil {
				return err
			}
			client, err := ctx.replicateClient(cmd)
			if err != nil {
				return err
			}
			imageURL, err := imageReference(input)
			if err != nil {
				return err
			}

			m, err := metrics.New()
			if err != nil {
				return err
			}
			orch := rembg.NewOrchestrator(client,
				rembg.WithConcurrencyLimit(cfg.Compare.MaxConcurrency),
				rembg.WithRecorder(m),
			)

			done := util.Trace("compare")
			results := orch.RunAll(cmd.Context(), selected, imageURL, func(job rembg.ModelJob) {
				slog.Info("model update", "model", job.ModelID, "status", job.Status)
			})
			done()

			if saveName != "" {
				rec, err := saveComparison(cmd, ctx, store.Record{
					Category: category,
					Name:     saveName,
					Notes:    notes,
					Results:  results,
					ImageURL: imageURL,
				})
				if err != nil {
					return err
				}
				slog.Info("record saved", "id", rec.ID)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(selected, results, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input image path, URL or data URI")
	cmd.Flags().StringSliceVar(&models, "models", nil, "Model ids to run (default: all registered)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cmd.Flags().StringVar(&saveName, "save", "", "Save the comparison as a record with this name")
	cmd.Flags().StringVar(&category, "category", "", "Record category, required with --save")
	cmd.Flags().StringVar(&notes, "notes", "", "Record notes")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// imageReference 本地文件转成 data URI，URL 和 data URI 原样传给模型
func imageReference(input string) (string, error) {
	switch {
	case strings.HasPrefix(input, "data:"), strings.HasPrefix(input, "http://"), strings.HasPrefix(input, "https://"):
		return input, nil
	default:
		return util.ReadDataURI(input)
	}
}

func saveComparison(cmd *cobra.Command, ctx *commandContext, rec store.Record) (store.Record, error) {
	kv, err := ctx.openStore()
	if err != nil {
		return store.Record{}, err
	}
	defer func() { _ = kv.Close() }()
	return store.NewRecordStore(kv).Create(cmd.Context(), rec)
}

func renderJobs(models []rembg.Model, results map[string]rembg.ModelJob, colorize bool) string {
	rows := make([][]string, 0, len(results))
	for _, m := range models {
		job, ok := results[m.ID]
		if !ok {
			continue
		}
		detail := job.First()
		if job.Error != "" {
			detail = job.Error
		}
		rows = append(rows, []string{
			m.ID,
			string(job.Status),
			job.UpdatedAt.Sub(job.StartedAt).Round(100 * time.Millisecond).String(),
			detail,
		})
	}
	return renderTable([]column{
		{Title: "Model"},
		{Title: "Status", Color: statusColor},
		{Title: "Elapsed", Align: text.AlignRight},
		{Title: "Output"},
	}, rows, colorize)
}

func renderRecords(records []store.Record) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		ok := 0
		for _, j := range r.Results {
			if len(j.Result()) > 0 {
				ok++
			}
		}
		rows = append(rows, []string{
			r.ID,
			r.Timestamp.Local().Format("2006-01-02 15:04"),
			r.Category,
			r.Name,
			fmt.Sprintf("%d/%d", ok, len(r.Results)),
			bestModel(r),
		})
	}
	return renderTable([]column{
		{Title: "ID"},
		{Title: "Saved"},
		{Title: "Category"},
		{Title: "Name"},
		{Title: "Outputs", Align: text.AlignRight},
		{Title: "Best"},
	}, rows, false)
}

// bestModel overall 最高的模型，没有打分时为 "-"
func bestModel(r store.Record) string {
	ids := make([]string, 0, len(r.Scores))
	for id := range r.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	best, top := "-", 0
	for _, id := range ids {
		if o := r.Scores[id].Overall; o > top {
			best, top = fmt.Sprintf("%s (%d)", id, o), o
		}
	}
	return best
}
