package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vseek/internal/demux"
	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/session"
	"github.com/zsiec/vseek/internal/synth"
)

func (a *app) info(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("info: no files given")
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tCODEC\tSIZE\tFORMAT\tFRAMES\tKEYS\tFPS\tDURATION\tBITRATE")
	for _, path := range args {
		d, err := demux.Open(ctx, path, a.indexCache(), a.log)
		if err != nil {
			return err
		}
		md := d.StreamMetadata()
		idx := d.Index()
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%s\t%d\t%d\t%.3f\t%s\t%d\n",
			path, md.CodecName, md.Width, md.Height, d.CacheKey().OutputFormat(),
			md.NumFrames, idx.KeyFrames(), md.FPS, md.Duration.Round(time.Millisecond), md.Bitrate)
		d.Close()
	}
	return tw.Flush()
}

func (a *app) frames(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("frames: need a file and at least one index")
	}
	indices := make([]int, 0, len(args)-1)
	for _, s := range args[1:] {
		i, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("frames: bad index %q: %w", s, err)
		}
		indices = append(indices, i)
	}

	mgr := a.newManager(0)
	defer mgr.CloseAll()
	c, err := mgr.Create(ctx, args[0])
	if err != nil {
		return err
	}
	md := c.StreamMetadata()

	// Each call keeps the order given; going backwards reopens the source.
	for _, i := range indices {
		f, err := c.GetFrame(ctx, i)
		switch {
		case errors.Is(err, media.ErrInvalidIndex):
			fmt.Printf("%d\tinvalid\n", i)
			continue
		case err != nil:
			return err
		}
		fmt.Printf("%d\tpts=%d\tt=%.3fs\t%dx%d\t%s\n", i, f.PTS, float64(f.PTS)/90000, f.Width, f.Height, f.Format)
	}
	st := c.Stats()
	a.log.Info("done", "frames", md.NumFrames, "reconfigures", st.Reconfigures, "init", c.SessionInitTime())
	return nil
}

func (a *app) batch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	n := fs.Int("n", 8, "batch size")
	start := fs.Int("start", 0, "first frame index")
	at := fs.Float64("at", -1, "start time in seconds, overrides -start")
	warmup := fs.Bool("warmup", false, "start decoding only once every session is up")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("batch: no files given")
	}

	sessions := a.cfg.Session.WarmupSessions
	if *warmup {
		sessions = fs.NArg()
	}
	mgr := a.newManager(sessions)
	defer mgr.CloseAll()

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range fs.Args() {
		g.Go(func() error {
			c, err := mgr.Create(ctx, path)
			if err != nil {
				return err
			}
			first := *start
			if *at >= 0 {
				first = c.IndexFromTime(*at)
			}
			return walk(ctx, c, first, *n)
		})
	}
	return g.Wait()
}

func walk(ctx context.Context, c *session.Coordinator, start, n int) error {
	if err := c.SeekToIndex(ctx, start); err != nil {
		return err
	}
	began := time.Now()
	total := 0
	for ctx.Err() == nil {
		res, err := c.GetBatch(n)
		if err != nil {
			return err
		}
		if len(res.Frames) == 0 {
			break
		}
		total += len(res.Frames)
	}
	elapsed := time.Since(began)
	fmt.Printf("%s\t%d frames\t%s\t%.1f fps\tinit %s\n", c.Source(), total, elapsed.Round(time.Millisecond),
		float64(total)/max(elapsed.Seconds(), 1e-9), c.SessionInitTime().Round(time.Microsecond))
	return ctx.Err()
}

func (a *app) stream(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	buffer := fs.Int("buffer", a.cfg.Session.BufferCapacity, "frames buffered between decoder and consumer")
	batch := fs.Int("batch", a.cfg.Session.BufferCapacity, "frames popped per batch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("stream: need exactly one file")
	}
	a.cfg.Session.BufferCapacity = *buffer

	mgr := a.newManager(0)
	defer mgr.CloseAll()
	c, err := mgr.Create(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := c.StartStreaming(ctx); err != nil {
		return err
	}

	// Cancelling ctx stops the producer, which drains the channel and ends
	// the consumer below with a short batch.
	began := time.Now()
	total := 0
	for {
		frames, popErr := c.PopBatch(*batch)
		if popErr != nil {
			err = popErr
			break
		}
		if len(frames) == 0 {
			break
		}
		total += len(frames)
	}
	if stopErr := c.StopStreaming(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	elapsed := time.Since(began)
	fmt.Printf("%s\t%d frames\t%s\t%.1f fps\n", c.Source(), total, elapsed.Round(time.Millisecond),
		float64(total)/max(elapsed.Seconds(), 1e-9))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) index(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("index: no files given")
	}
	cache := a.indexCache()
	if cache == nil {
		return errors.New("index: index cache is disabled")
	}
	began := time.Now()
	if err := demux.Prescan(ctx, args, cache, a.cfg.Index.ScanParallel, a.log); err != nil {
		return err
	}
	n, err := a.store.Len()
	if err != nil {
		return err
	}
	a.log.Info("indexed", "files", len(args), "cached", n, "elapsed", time.Since(began).Round(time.Millisecond))
	return nil
}

func (a *app) synth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	out := fs.String("o", "synth.ts", "output file")
	frames := fs.Int("frames", 300, "frame count")
	gop := fs.Int("gop", 30, "GOP length")
	codec := fs.String("codec", "h264", "h264 or h265")
	width := fs.Int("width", 320, "picture width")
	height := fs.Int("height", 240, "picture height")
	bitDepth := fs.Int("bitdepth", 8, "luma bit depth")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := synth.Default(*frames, *gop)
	s.Width, s.Height, s.BitDepth = *width, *height, *bitDepth
	switch *codec {
	case "h264":
	case "h265", "hevc":
		s.Codec = media.CodecH265
	default:
		return fmt.Errorf("synth: unknown codec %q", *codec)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if _, err := synth.WriteTS(f, s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.log.Info("wrote synthetic stream", "file", *out, "frames", *frames, "gop", *gop, "codec", s.Codec.String())
	return nil
}
