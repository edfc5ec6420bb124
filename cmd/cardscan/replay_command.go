package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"cardscan/internal/frame"
	"cardscan/internal/scheduler"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".tif", ".tiff"}

type replayRow struct {
	seq     uint64
	image   string
	status  string
	cardID  string
	inliers int
	elapsed time.Duration
}

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var session string
	var fps float64

	cmd := &cobra.Command{
		Use:   "replay <dir|image>...",
		Short: "Replay a frame sequence through the scheduler as one session",
		Long: `Submits each image, in name order, as the next frame of one session.
Frames still queued when a newer one arrives are superseded, the way a live
camera feed behaves. The catalog watcher runs for the duration of the replay.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectImages(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return errors.New("no images found")
			}
			engine, err := ctx.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			if w := engine.Watch(cmd.Context()); w != nil {
				defer w.Stop()
			}

			var interval time.Duration
			if fps > 0 {
				interval = time.Duration(float64(time.Second) / fps)
			}

			rows := make([]replayRow, len(files))
			var wg sync.WaitGroup
			for i, path := range files {
				seq := uint64(i + 1)
				rows[i] = replayRow{seq: seq, image: filepath.Base(path)}

				f, err := frame.Load(path, session)
				if err != nil {
					rows[i].status = "unreadable: " + err.Error()
					continue
				}
				ch, err := engine.Submit(cmd.Context(), scheduler.Request{SessionID: session, Seq: seq, Frame: f})
				if err != nil {
					rows[i].status = err.Error()
					continue
				}
				wg.Add(1)
				go func(row *replayRow) {
					defer wg.Done()
					resp := <-ch
					row.elapsed = resp.Elapsed
					if resp.Err != nil {
						row.status = resp.Err.Error()
						return
					}
					row.status = resp.Outcome.Kind.String()
					row.cardID = resp.Outcome.Result.ID
					row.inliers = resp.Outcome.Result.Inliers
				}(&rows[i])

				if interval > 0 && i < len(files)-1 {
					select {
					case <-cmd.Context().Done():
						wg.Wait()
						return cmd.Context().Err()
					case <-time.After(interval):
					}
				}
			}
			wg.Wait()

			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{
					strconv.FormatUint(r.seq, 10), r.image, r.status, r.cardID,
					strconv.Itoa(r.inliers), r.elapsed.Round(time.Millisecond).String(),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Seq", "Frame", "Result", "Card", "Inliers", "Elapsed"},
				table,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			st := engine.Scheduler().Stats()
			fmt.Fprintf(out, "submitted %d, completed %d, superseded %d, rejected %d\n",
				st.Submitted, st.Completed, st.Superseded, st.Rejected)
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "replay", "Session id for the sequence")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Frames per second; 0 submits as fast as possible")
	return cmd
}

// collectImages expands directories to their image files in name order.
func collectImages(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
				continue
			}
			names = append(names, e.Name())
		}
		slices.Sort(names)
		for _, n := range names {
			files = append(files, filepath.Join(arg, n))
		}
	}
	return files, nil
}
