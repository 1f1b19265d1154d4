package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/e7canasta/camrecord"
	"github.com/e7canasta/camrecord/internal/catalog"
	"github.com/e7canasta/camrecord/internal/discovery"
)

var camerasCommand = cli.Command{
	Name:  "cameras",
	Usage: "List V4L2 cameras and whether they deliver raw Bayer",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "json", Usage: "print JSON"},
	},
	Action: func(c *cli.Context) error {
		if _, err := setup(c); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cams, err := discovery.ListCameras(ctx)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(cams)
		}
		if len(cams) == 0 {
			fmt.Println("No cameras found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tDEVICE\tNAME\tBAYER")
		for _, cam := range cams {
			fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", cam.Index, cam.Device, cam.Name, cam.Bayer)
		}
		return w.Flush()
	},
}

var recordingsCommand = cli.Command{
	Name:      "recordings",
	Aliases:   []string{"ls"},
	Usage:     "List recorded files, or catalogued sessions with --sessions",
	ArgsUsage: "[dir]",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "sessions", Usage: "list sessions from the catalog"},
		cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum sessions to list"},
		cli.BoolFlag{Name: "json", Usage: "print JSON"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := setup(c)
		if err != nil {
			return err
		}

		if c.Bool("sessions") {
			return listSessions(c, cfg.Catalog.Path)
		}

		dir := cfg.Recording.OutputDir
		if arg := c.Args().Get(0); arg != "" {
			dir = arg
		}
		recs, err := camrecord.ListRecordings(dir)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(recs)
		}
		if len(recs) == 0 {
			fmt.Printf("No recordings in %s\n", dir)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIDE\tSIZE\tMODIFIED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%.1f MB\t%s\n", r.Name, r.Side, float64(r.Size)/(1<<20), r.ModTime.Format(time.DateTime))
		}
		return w.Flush()
	},
}

func listSessions(c *cli.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("catalog %s: %w", path, err)
	}
	db, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.ListSessions(context.Background(), c.Int("limit"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(sessions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSOURCE\tFPS\tDURATION\tFRAMES\tERRORS")
	for _, s := range sessions {
		frames, errs := "", 0
		for i, side := range s.Sides {
			if i > 0 {
				frames += "/"
			}
			frames += fmt.Sprint(side.FramesWritten)
			if side.Error != "" {
				errs++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%ds\t%s\t%d\n",
			s.StartedAt.Local().Format(time.DateTime), s.Source, s.FPS, s.Duration, frames, errs)
	}
	return w.Flush()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
