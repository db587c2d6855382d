package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chaos-io/bgcompare/chroma"
	"github.com/chaos-io/bgcompare/rembg"
	"github.com/chaos-io/bgcompare/util"
)

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	var (
		input     string
		output    string
		colorHex  string
		tolerance int
		modelID   string
		trim      bool
		bgHex     string
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the background of one image, locally by color or with a hosted model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if (colorHex == "") == (modelID == "") {
				return fmt.Errorf("exactly one of --color or --model is required")
			}

			var remover rembg.Remover
			if modelID != "" {
				registry, err := rembg.NewRegistry(cfg.Models)
				if err != nil {
					return err
				}
				m, ok := registry.Lookup(modelID)
				if !ok {
					return fmt.Errorf("unknown model %q", modelID)
				}
				client, err := ctx.replicateClient(cmd)
				if err != nil {
					return err
				}
				remover = rembg.NewReplicateRemover(client, m)
			} else {
				ref, err := chroma.ParseHexColor(colorHex)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("tolerance") {
					tolerance = cfg.Removal.DefaultTolerance
				}
				remover = &chroma.ColorRemover{Reference: ref, Tolerance: tolerance, MaxDimension: cfg.Removal.MaxDimension}
			}

			defer util.Trace("remove " + input)()
			img, err := util.LoadImage(cmd.Context(), input)
			if err != nil {
				return err
			}
			out, err := remover.Remove(cmd.Context(), img)
			if err != nil {
				return err
			}
			ratio := chroma.TransparentRatio(out)
			if trim {
				if out, err = chroma.Trim(out, 0.5); err != nil {
					return err
				}
			}
			if bgHex != "" {
				bg, err := chroma.ParseHexColor(bgHex)
				if err != nil {
					return err
				}
				out = chroma.Flatten(out, bg)
			}
			if err := writePNG(output, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%.1f%% transparent)\n", output, ratio*100)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input image path, URL or data URI")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output PNG path")
	cmd.Flags().StringVar(&colorHex, "color", "", "Background color as RRGGBB for local removal")
	cmd.Flags().IntVar(&tolerance, "tolerance", chroma.DefaultTolerance, "Color distance tolerance (0-200)")
	cmd.Flags().StringVar(&modelID, "model", "", "Hosted model id for remote removal")
	cmd.Flags().BoolVar(&trim, "trim", false, "Crop transparent borders around the subject")
	cmd.Flags().StringVar(&bgHex, "background", "", "Composite the result onto this RRGGBB color")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func writePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return f.Close()
}
