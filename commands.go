package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"wapor-downloader/internal/common"
	"wapor-downloader/internal/downloads"
)

// NewRootCommand returns the root command with all subcommands attached
func NewRootCommand(app *App) *cobra.Command {
	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "wapor",
		Short: "Download and correct WaPOR raster datasets.",
		Long: `wapor retrieves WaPOR datasets for a period and region, converts them to
physical units, optionally to dekadal totals, clips them to a cutline and
writes georeferenced GeoTIFFs.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.startup()
		},
	}
	rootCmd.AddCommand(NewDownloadCommand(app))
	rootCmd.AddCommand(NewCatalogCommand(app))
	rootCmd.AddCommand(NewDatasetCommand(app))
	rootCmd.AddCommand(NewSettingsCommand(app))
	rootCmd.AddCommand(NewVersionCommand(app))

	return rootCmd
}

// downloadFlags are the values of the download command's flags
type downloadFlags struct {
	apiKey     string
	start      string
	end        string
	bbox       string
	cutline    string
	clip       bool
	cumulative bool
	dest       string
	filters    []string
}

// NewDownloadCommand creates the 'download' command
func NewDownloadCommand(app *App) *cobra.Command {
	settings, _ := app.GetSettings()
	flags := &downloadFlags{
		clip:       settings.Clip,
		cumulative: common.OutputMode(settings.OutputMode).IsCumulative(),
		dest:       settings.DownloadPath,
	}

	cmd := &cobra.Command{
		Use:     "download [dataset...]",
		Aliases: []string{"d"},
		Example: "$ wapor download L1_AETI_D --start 2020-01-01 --end 2020-03-01 --bbox 37.95,7.89,43.32,12.32",
		Short:   "Download datasets for a period and region",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(app, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			summary, err := app.Download(cmd.Context(), req, func(e downloads.Event) {
				printEvent(out, e)
			})
			if summary != nil {
				fmt.Fprintln(out, describeSummary(summary))
				for _, skip := range summary.Skipped {
					fmt.Fprintf(out, "  skipped %s %s: %s\n", skip.Dataset, skip.Raster, skip.Reason)
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.apiKey, "api-key", "", "WaPOR API key (defaults to WAPOR_API_KEY)")
	f.StringVar(&flags.start, "start", "", "first day, YYYY-MM-DD")
	f.StringVar(&flags.end, "end", "", "end day (exclusive), YYYY-MM-DD")
	f.StringVar(&flags.bbox, "bbox", "", "extent as west,south,east,north in EPSG:4326")
	f.StringVar(&flags.cutline, "cutline", "", "GeoJSON or WKT polygon file in EPSG:4326")
	f.BoolVar(&flags.clip, "clip", flags.clip, "clip rasters to the cutline")
	f.BoolVar(&flags.cumulative, "cumulative", flags.cumulative, "convert dekadal averages to totals")
	f.StringVar(&flags.dest, "dest", flags.dest, "destination folder")
	f.StringArrayVar(&flags.filters, "filter", nil, "restrict a dimension, DIMENSION=CODE[,CODE...]")
	return cmd
}

// request builds a download request. Empty values are left for the
// orchestrator to report together.
func (f *downloadFlags) request(app *App, datasets []string) (downloads.Request, error) {
	req := downloads.Request{
		APIKey:      f.apiKey,
		Datasets:    datasets,
		CutlinePath: f.cutline,
		Clip:        f.clip,
		Cumulative:  f.cumulative,
		Destination: f.dest,
	}
	if req.APIKey == "" {
		req.APIKey = app.APIKey()
	}

	var errs []error
	if f.start != "" {
		start, err := common.ParseISO8601(f.start)
		if err != nil {
			errs = append(errs, fmt.Errorf("--start: %w", err))
		}
		req.Start = start
	}
	if f.end != "" {
		end, err := common.ParseISO8601(f.end)
		if err != nil {
			errs = append(errs, fmt.Errorf("--end: %w", err))
		}
		req.End = end
	}
	if f.bbox != "" {
		bbox, err := parseBBox(f.bbox)
		if err != nil {
			errs = append(errs, err)
		}
		req.BBox = bbox
	}
	if len(f.filters) > 0 {
		filters, err := parseFilters(f.filters)
		if err != nil {
			errs = append(errs, err)
		}
		req.Filters = filters
	}
	return req, errors.Join(errs...)
}

// parseBBox reads west,south,east,north
func parseBBox(s string) (*downloads.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("--bbox: expected west,south,east,north, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("--bbox: %w", err)
		}
		v[i] = f
	}
	return &downloads.BoundingBox{West: v[0], South: v[1], East: v[2], North: v[3]}, nil
}

// parseFilters reads DIMENSION=CODE[,CODE...] entries
func parseFilters(entries []string) (map[string][]string, error) {
	filters := make(map[string][]string)
	for _, entry := range entries {
		dim, codes, ok := strings.Cut(entry, "=")
		dim = strings.TrimSpace(dim)
		if !ok || dim == "" || codes == "" {
			return nil, fmt.Errorf("--filter: expected DIMENSION=CODE[,CODE...], got %q", entry)
		}
		for _, code := range strings.Split(codes, ",") {
			if code = strings.TrimSpace(code); code != "" {
				filters[dim] = append(filters[dim], code)
			}
		}
	}
	return filters, nil
}

func printEvent(out io.Writer, e downloads.Event) {
	switch e.Type {
	case downloads.EventStatus:
		if e.Message == "" {
			fmt.Fprintf(out, "Status: %s\n", e.State)
			return
		}
		if e.DatasetTotal > 0 && e.DatasetIndex > 0 {
			fmt.Fprintf(out, "[%d/%d %3d%%] %s\n", e.DatasetIndex, e.DatasetTotal, e.Percent(), e.Message)
			return
		}
		fmt.Fprintln(out, e.Message)
	case downloads.EventSkip:
		fmt.Fprintln(out, e.Message)
	}
}

// NewCatalogCommand creates the 'catalog' command
func NewCatalogCommand(app *App) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:     "catalog",
		Aliases: []string{"ls"},
		Example: "$ wapor catalog --tag L2",
		Short:   "List the datasets of the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cubes, err := app.ListDatasets(cmd.Context(), tag)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range cubes {
				fmt.Fprintf(out, "%-20s %s\n", c.Code, c.Caption)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "product level tag such as L1, L2 or L3")

	cmd.AddCommand(&cobra.Command{
		Use:   "workspaces",
		Short: "List the workspaces of the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaces, err := app.ListWorkspaces(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range workspaces {
				fmt.Fprintf(out, "%-12s %s\n", w.Code, w.Caption)
			}
			return nil
		},
	})
	return cmd
}

// NewDatasetCommand creates the 'dataset' command
func NewDatasetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "dataset [code]",
		Example: "$ wapor dataset L1_AETI_D",
		Short:   "Describe a dataset's measure and dimensions",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cube, err := app.DescribeDataset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", cube.Code, cube.Caption)
			if extent := cube.TemporalExtent(); extent != "" {
				fmt.Fprintf(out, "temporal extent: %s\n", extent)
			}
			if extent := cube.SpatialExtent(); extent != "" {
				fmt.Fprintf(out, "spatial extent:  %s\n", extent)
			}
			fmt.Fprintf(out, "measure: %s (%s), multiplier %g\n", cube.Measure.Code, cube.Measure.Caption, cube.Measure.Multiplier)
			for _, dim := range cube.Dimensions {
				fmt.Fprintf(out, "dimension %s [%s]: %d member(s)\n", dim.Code, dim.Type, len(dim.Members))
			}
			return nil
		},
	}
}

// NewSettingsCommand creates the 'settings' command
func NewSettingsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change persistent settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _ := app.GetSettings()
			data, err := json.MarshalIndent(settings, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.GetSettingsPath())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-download-path [folder]",
		Short: "Change the default destination folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.SetDownloadPath(args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ResetSettings()
		},
	})
	return cmd
}

// NewVersionCommand creates the 'version' command
func NewVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.GetAppVersion())
		},
	}
}
