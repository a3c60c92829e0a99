package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/player"
)

// logCallback logs playback events and reports when playback is over.
type logCallback struct {
	player.NopCallback

	log  *logrus.Entry
	once sync.Once
	done chan struct{}
}

func newLogCallback(log *logrus.Logger) *logCallback {
	return &logCallback{
		log:  logger.WithComponent(log, "playback"),
		done: make(chan struct{}),
	}
}

func (c *logCallback) finish() { c.once.Do(func() { close(c.done) }) }

func (c *logCallback) OnPlayBackStarted() { c.log.Info("Playback started") }
func (c *logCallback) OnPlayBackPaused()  { c.log.Info("Playback paused") }
func (c *logCallback) OnPlayBackResumed() { c.log.Info("Playback resumed") }

func (c *logCallback) OnPlayBackEnded() {
	c.log.Info("Playback ended")
	c.finish()
}

func (c *logCallback) OnPlayBackStopped() {
	c.log.Info("Playback stopped")
	c.finish()
}

func (c *logCallback) OnPlayBackSpeedChanged(speed int) {
	c.log.WithField("speed", speed).Info("Playback speed changed")
}

func (c *logCallback) OnPlayBackSeek(t, offset time.Duration) {
	c.log.WithFields(logrus.Fields{"time": t, "offset": offset}).Info("Playback seek")
}

func (c *logCallback) OnPlayBackSeekChapter(chapter int) {
	c.log.WithField("chapter", chapter).Info("Playback chapter seek")
}

type playOptions struct {
	synthetic time.Duration
	start     time.Duration
	resume    bool
	speed     int
	interval  time.Duration
}

func newPlayCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <item>",
		Short: "Play one item until it ends",
		Long: `Play a file, srt:// or rtp:// URL through the sync engine without
rendering output. Status is logged while playing; interrupt to stop and
save a bookmark.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := playOptions{
				synthetic: lo.Must(cmd.Flags().GetDuration("synthetic")),
				start:     lo.Must(cmd.Flags().GetDuration("start")),
				resume:    lo.Must(cmd.Flags().GetBool("resume")),
				speed:     lo.Must(cmd.Flags().GetInt("speed")),
				interval:  lo.Must(cmd.Flags().GetDuration("status-interval")),
			}
			return a.play(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().Duration("synthetic", 0, "play a generated title of this length instead of opening the item")
	cmd.Flags().Duration("start", 0, "start position")
	cmd.Flags().Bool("resume", false, "resume from the saved bookmark")
	cmd.Flags().Int("speed", 1000, "playback speed, 1000 is normal")
	cmd.Flags().Duration("status-interval", 5*time.Second, "how often to log playback status, zero disables")
	return cmd
}

func (a *app) play(ctx context.Context, item string, opts playOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := a.redisClient()
	if client != nil {
		defer client.Close()
	}

	cb := newLogCallback(a.log)
	log := a.adapter()
	p := player.New(a.cfg.Player,
		player.WithLogger(log),
		player.WithOpener(a.opener(opts.synthetic, log)),
		player.WithBookmarks(a.bookmarkStore(client)),
		player.WithCallback(cb),
	)

	if !p.Open(item, player.OpenOptions{StartTime: opts.start, Resume: opts.resume}) {
		return fmt.Errorf("failed to open %s", item)
	}
	defer p.Close()

	if opts.speed != 1000 {
		p.SetSpeed(opts.speed)
	}

	var tick <-chan time.Time
	if opts.interval > 0 {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-cb.done:
			return nil
		case <-ctx.Done():
			a.log.Info("Interrupted, stopping playback")
			return nil
		case <-tick:
			st := p.Status()
			a.log.WithFields(logrus.Fields{
				"time":       st.Time.Truncate(time.Millisecond).String(),
				"total":      st.TotalTime.Truncate(time.Millisecond).String(),
				"percentage": fmt.Sprintf("%.1f", st.Percentage),
				"chapter":    st.Chapter,
				"cache":      st.CacheState,
				"queues":     st.QueueLevels,
			}).Info("Playback status")
		}
	}
}
