package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/config"
	"github.com/austinkregel/local-media/playerd/internal/decoder"
	"github.com/austinkregel/local-media/playerd/internal/ipc"
	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/player"
	"github.com/austinkregel/local-media/playerd/internal/queue"
	"github.com/austinkregel/local-media/playerd/internal/render"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

const (
	keySocket  = "socket"
	keyConfig  = "config"
	keyVerbose = "verbose"
)

func init() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer)
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String(keySocket, "", "IPC socket path (default: /tmp/playerd-<uid>.sock)")
	lo.Must0(viper.BindPFlag(keySocket, rootCmd.PersistentFlags().Lookup(keySocket)))

	rootCmd.PersistentFlags().String(keyConfig, "", "Configuration directory (default: ~/.config/playerd)")
	lo.Must0(viper.BindPFlag(keyConfig, rootCmd.PersistentFlags().Lookup(keyConfig)))

	rootCmd.PersistentFlags().BoolP(keyVerbose, "v", false, "Enable debug logging")
	lo.Must0(viper.BindPFlag(keyVerbose, rootCmd.PersistentFlags().Lookup(keyVerbose)))

	rootCmd.AddCommand(versionCmd, probeCmd)
}

var rootCmd = &cobra.Command{
	Use:           "playerd",
	Short:         "Headless audio and video playback daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println(Version)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <location>",
	Short: "Print the streams playerd would play for a location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ff, err := decoder.NewFFmpeg(logging.Component("decoder"))
		if err != nil {
			return err
		}
		m, err := ff.Probe(cmd.Context(), args[0], decoder.ProbeOptions{WantAudio: true, WantVideo: true})
		if err != nil {
			return err
		}
		cmd.Printf("id:       %s\nduration: %s\n", m.ID, m.Duration)
		if a, ok := m.Audio.Get(); ok {
			cmd.Printf("audio:    %dHz %dch\n", a.SampleRate, a.Channels)
		}
		if v, ok := m.Video.Get(); ok {
			cmd.Printf("video:    %dx%d @ %.3f fps (%s)\n", v.Width, v.Height, v.FrameRate, v.HardwareAcceleration)
		}
		return nil
	},
}

func configDir() (string, error) {
	if dir := viper.GetString(keyConfig); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(base, "playerd"), nil
}

func socketPath() string {
	if path := viper.GetString(keySocket); path != "" {
		return path
	}
	return fmt.Sprintf("/tmp/playerd-%d.sock", os.Getuid())
}

func run(ctx context.Context) (err error) {
	dir, err := configDir()
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	configMgr := config.NewManager(fs, dir)
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	logOpts := logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON, File: cfg.Logging.File}
	if viper.GetBool(keyVerbose) {
		logOpts.Level = "debug"
	}
	closer, err := logging.Setup(logOpts)
	if err != nil {
		return err
	}
	defer closer.Close()

	log := logging.Component("daemon")
	log.WithFields(logrus.Fields{"version": Version, "config": configMgr.GetPath()}).Info("starting")

	ff, err := decoder.NewFFmpeg(logging.Component("decoder"))
	if err != nil {
		return fmt.Errorf("failed to initialize decoder: %w", err)
	}

	format := types.AudioFormat{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	analyzer := audio.NewAnalyzer(format.SampleRate, format.Channels)
	frames := render.NewLatest()

	ctrl, err := player.NewController(player.Options{
		Opener:        ff,
		NewSampler:    audio.NewOtoFactory(format, analyzer, logging.Component("sampler")),
		Renderer:      frames,
		SyncThreshold: cfg.Playback.SyncThreshold(),
		Volume:        cfg.Audio.DefaultVolume,
		Speed:         cfg.Playback.Speed,
		Log:           logging.Component("player"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize player: %w", err)
	}
	defer func() { err = multierr.Append(err, ctrl.Close()) }()

	mediaQueue := queue.New[types.QueueItem]()
	var store *queue.Store[types.QueueItem]
	if cfg.Behavior.RememberQueue {
		store = queue.NewStore[types.QueueItem](fs, dir)
		if err := store.Load(mediaQueue); err != nil {
			log.WithError(err).Warn("failed to load saved queue")
		} else if idx, size := mediaQueue.Position(); size > 0 {
			log.WithFields(logrus.Fields{"items": size, "position": idx}).Info("restored queue")
		}
		defer func() { err = multierr.Append(err, store.Save(mediaQueue)) }()
	}

	session, err := media.NewSession(logging.Component("mpris"))
	if err != nil {
		log.WithError(err).Warn("continuing without OS media integration")
		session = media.NewNoOpSession()
	}
	defer func() { err = multierr.Append(err, session.Close()) }()

	server, err := ipc.NewServer(ipc.Options{
		SocketPath: socketPath(),
		Config:     configMgr,
		Player:     ctrl,
		Queue:      mediaQueue,
		Store:      store,
		Session:    session,
		Analyzer:   analyzer,
		Frames:     frames,
		Log:        logging.Component("ipc"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize IPC server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("IPC server error: %w", err)
	}
	return nil
}
