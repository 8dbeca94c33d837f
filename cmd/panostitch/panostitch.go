package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abworrall/panostitch/pkg/bridge"
	"github.com/abworrall/panostitch/pkg/pano"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "panostitch",
		Short:        "Stitch overlapping photos into a panorama",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newStitchCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

type stitchFlags struct {
	output     string
	configFile string
	wave       bool
	blender    string
	projection string
	verbosity  int
	debugDir   string
	all        bool
}

func newStitchCmd() *cobra.Command {
	f := stitchFlags{}

	cmd := &cobra.Command{
		Use:   "stitch [files|dirs...]",
		Short: "Stitch the images into a panorama (PNG, or Radiance HDR if the output ends in .hdr)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return runStitch(ctx, cmd, f, args)
		},
	}

	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file (default pano-<timestamp>.png)")
	cmd.Flags().StringVar(&f.configFile, "config", "", "YAML config file, as printed by the config command")
	cmd.Flags().BoolVar(&f.wave, "wave", true, "straighten the horizon")
	cmd.Flags().StringVar(&f.blender, "blender", "multiband", "how to blend the seams: multiband, feather")
	cmd.Flags().StringVar(&f.projection, "projection", "spherical", "canvas projection: spherical, cylindrical, planar")
	cmd.Flags().CountVarP(&f.verbosity, "verbose", "v", "how verbose to get")
	cmd.Flags().StringVar(&f.debugDir, "debugdir", "", "with -v, dump seam masks as PNGs here")
	cmd.Flags().BoolVar(&f.all, "all", false, "write one panorama per group of overlapping images")

	return cmd
}

func runStitch(ctx context.Context, cmd *cobra.Command, f stitchFlags, args []string) error {
	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())

	l := bridge.NewLoader(logrus.NewEntry(log))
	if f.configFile != "" {
		cfg, err := bridge.LoadConfig(f.configFile)
		if err != nil {
			return err
		}
		l.Config = cfg
	}
	if err := l.LoadFilesAndDirs(args...); err != nil {
		return err
	}

	// Flags override the files, but only if they were actually given
	cfg := l.Config
	if cmd.Flags().Changed("wave") {
		cfg.WaveCorrection = f.wave
	}
	if cmd.Flags().Changed("blender") {
		cfg.Blender = f.blender
	}
	if cmd.Flags().Changed("projection") {
		cfg.Projection = f.projection
	}
	if f.verbosity > cfg.Verbosity {
		cfg.Verbosity = f.verbosity
	}
	if f.debugDir != "" {
		cfg.DebugDir = f.debugDir
	}
	if cfg.Verbosity > 0 {
		log.SetLevel(logrus.DebugLevel)
		log.Debugf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}
	cfg.Logger = log

	log.Infof("stitching %d images", len(l.Images))
	output := f.output
	if output == "" {
		output = defaultOutputName(time.Now())
	}

	if f.all {
		panos, err := pano.StitchAll(ctx, l.Images, cfg)
		if err != nil {
			return reportFailure(log, err)
		}
		for i, p := range panos {
			if err := writePanorama(p, numberedName(output, i)); err != nil {
				return err
			}
			log.Infof("wrote %s: %s", numberedName(output, i), p)
		}
		return nil
	}

	p, err := bridge.NewSession(l.Images...).Panorama(ctx, cfg)
	if err != nil {
		return reportFailure(log, err)
	}
	if err := writePanorama(p, output); err != nil {
		return err
	}
	log.Infof("wrote %s: %s", output, p)
	return nil
}

func reportFailure(log *logrus.Logger, err error) error {
	var se *pano.StitchError
	if errors.As(err, &se) {
		log.WithField("kind", se.Kind).Errorf("Failed to stitch! %v", err)
	} else {
		log.Errorf("Failed to stitch! %v", err)
	}
	return err
}

func writePanorama(p pano.Panorama, filename string) error {
	if strings.ToLower(filepath.Ext(filename)) == ".hdr" {
		return bridge.WriteHDR(p, filename)
	}
	return bridge.WritePNG(bridge.ToImage(p), filename)
}

func defaultOutputName(t time.Time) string {
	return fmt.Sprintf("pano-%s.png", t.Format("2006-01-02-15-04-05"))
}

// numberedName turns out.png into out-000.png, etc.
func numberedName(filename string, i int) string {
	ext := filepath.Ext(filename)
	return fmt.Sprintf("%s-%03d%s", strings.TrimSuffix(filename, ext), i, ext)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), pano.NewConfig().AsYaml())
		},
	}
}
