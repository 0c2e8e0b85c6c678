//go:build linux

package media

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/logging"
)

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	propertiesInterface  = "org.freedesktop.DBus.Properties"
	mprisBusName         = "org.mpris.MediaPlayer2.playerd"
	mprisObjectPath      = "/org/mpris/MediaPlayer2"
	noTrackPath          = "/org/mpris/MediaPlayer2/TrackList/NoTrack"
	identity             = "playerd"

	minRate = 0.25
	maxRate = 4.0
)

var supportedMimeTypes = []string{
	"audio/mpeg", "audio/flac", "audio/ogg", "audio/x-m4a",
	"video/mp4", "video/x-matroska", "video/webm",
}

// MPRISSession implements MPRIS media session for Linux
type MPRISSession struct {
	conn *dbus.Conn
	log  *logrus.Entry

	mu         sync.Mutex
	handler    CommandHandler
	metadata   Metadata
	state      PlaybackState
	position   time.Duration
	shuffle    bool
	loopStatus LoopStatus
	rate       float64
	volume     float64
}

// NewSession creates a new MPRIS media session on the session bus
func NewSession(log *logrus.Entry) (Session, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(mprisBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", mprisBusName)
	}

	s := newMPRISSession(conn, log)
	if err := s.exportInterfaces(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export interfaces: %w", err)
	}
	return s, nil
}

func newMPRISSession(conn *dbus.Conn, log *logrus.Entry) *MPRISSession {
	return &MPRISSession{
		conn:       conn,
		log:        logging.OrDefault(log, "mpris"),
		state:      StateStopped,
		loopStatus: LoopNone,
		rate:       1.0,
		volume:     1.0,
	}
}

func (s *MPRISSession) exportInterfaces() error {
	for _, iface := range []string{mprisInterface, mprisPlayerInterface, propertiesInterface} {
		if err := s.conn.Export(s, dbus.ObjectPath(mprisObjectPath), iface); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMetadata updates the media metadata
func (s *MPRISSession) UpdateMetadata(metadata Metadata) error {
	s.mu.Lock()
	s.metadata = metadata
	props := map[string]dbus.Variant{"Metadata": dbus.MakeVariant(s.metadataMap())}
	s.mu.Unlock()

	return s.emitPropertiesChanged(props)
}

// UpdatePlaybackState updates the playback state and position
func (s *MPRISSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	s.mu.Lock()
	changed := s.state != state
	jumped := (position - s.position).Abs() > time.Second
	s.state = state
	s.position = position
	status := s.playbackStatus()
	s.mu.Unlock()

	// Clients extrapolate position from Rate, so only state changes and
	// jumps are announced.
	if changed || jumped {
		if err := s.emitSeeked(position); err != nil {
			return err
		}
	}
	if !changed {
		return nil
	}
	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(status),
	})
}

// UpdateShuffle updates the shuffle state
func (s *MPRISSession) UpdateShuffle(enabled bool) error {
	s.mu.Lock()
	s.shuffle = enabled
	s.mu.Unlock()
	return s.emitPropertiesChanged(map[string]dbus.Variant{"Shuffle": dbus.MakeVariant(enabled)})
}

// UpdateLoopStatus updates the loop/repeat mode
func (s *MPRISSession) UpdateLoopStatus(status LoopStatus) error {
	s.mu.Lock()
	s.loopStatus = status
	s.mu.Unlock()
	return s.emitPropertiesChanged(map[string]dbus.Variant{"LoopStatus": dbus.MakeVariant(string(status))})
}

// UpdateRate updates the playback speed
func (s *MPRISSession) UpdateRate(rate float64) error {
	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()
	return s.emitPropertiesChanged(map[string]dbus.Variant{"Rate": dbus.MakeVariant(rate)})
}

// UpdateVolume updates the output volume
func (s *MPRISSession) UpdateVolume(volume float64) error {
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
	return s.emitPropertiesChanged(map[string]dbus.Variant{"Volume": dbus.MakeVariant(volume)})
}

// SetCommandHandler sets the handler for media commands
func (s *MPRISSession) SetCommandHandler(handler CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Close releases the bus connection
func (s *MPRISSession) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *MPRISSession) dispatch(cmd Command, data any) *dbus.Error {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return nil
	}
	if err := handler.OnCommand(cmd, data); err != nil {
		s.log.WithError(err).WithField("command", cmd).Warn("media command failed")
		return dbus.MakeFailedError(err)
	}
	return nil
}

// org.mpris.MediaPlayer2 methods

func (s *MPRISSession) Raise() *dbus.Error { return nil }
func (s *MPRISSession) Quit() *dbus.Error  { return nil }

// org.mpris.MediaPlayer2.Player methods

func (s *MPRISSession) Play() *dbus.Error     { return s.dispatch(CmdPlay, nil) }
func (s *MPRISSession) Pause() *dbus.Error    { return s.dispatch(CmdPause, nil) }
func (s *MPRISSession) Stop() *dbus.Error     { return s.dispatch(CmdStop, nil) }
func (s *MPRISSession) Next() *dbus.Error     { return s.dispatch(CmdNext, nil) }
func (s *MPRISSession) Previous() *dbus.Error { return s.dispatch(CmdPrevious, nil) }

func (s *MPRISSession) PlayPause() *dbus.Error {
	s.mu.Lock()
	playing := s.state == StatePlaying
	s.mu.Unlock()

	if playing {
		return s.Pause()
	}
	return s.Play()
}

// Seek moves relative to the current position, offset in microseconds
func (s *MPRISSession) Seek(offset int64) *dbus.Error {
	s.mu.Lock()
	target := max(s.position+time.Duration(offset)*time.Microsecond, 0)
	s.mu.Unlock()
	return s.dispatch(CmdSeek, target)
}

// SetPosition seeks to an absolute position; stale track ids are ignored
func (s *MPRISSession) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	s.mu.Lock()
	current := trackPath(s.metadata.ID)
	s.mu.Unlock()

	if trackID != current || position < 0 {
		return nil
	}
	return s.dispatch(CmdSeek, time.Duration(position)*time.Microsecond)
}

// OpenUri is not supported; media is added through the daemon's socket
func (s *MPRISSession) OpenUri(string) *dbus.Error {
	return dbus.MakeFailedError(fmt.Errorf("OpenUri is not supported"))
}

// org.freedesktop.DBus.Properties methods

func (s *MPRISSession) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, err := s.GetAll(iface)
	if err != nil {
		return dbus.Variant{}, err
	}
	v, ok := all[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
	}
	return v, nil
}

func (s *MPRISSession) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return mediaPlayer2Properties(), nil
	case mprisPlayerInterface:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.playerProperties(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface {
		return nil
	}

	switch prop {
	case "Shuffle":
		enabled, ok := value.Value().(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Shuffle"))
		}
		return s.dispatch(CmdSetShuffle, enabled)
	case "LoopStatus":
		status, ok := value.Value().(string)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for LoopStatus"))
		}
		return s.dispatch(CmdSetLoopStatus, LoopStatus(status))
	case "Rate":
		rate, ok := value.Value().(float64)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Rate"))
		}
		// A rate of zero means pause.
		if rate == 0 {
			return s.Pause()
		}
		return s.dispatch(CmdSetRate, math.Min(math.Max(rate, minRate), maxRate))
	case "Volume":
		volume, ok := value.Value().(float64)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Volume"))
		}
		return s.dispatch(CmdSetVolume, math.Min(math.Max(volume, 0), 1))
	}
	return dbus.MakeFailedError(fmt.Errorf("property %s is read-only", prop))
}

func mediaPlayer2Properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant(identity),
		"DesktopEntry":        dbus.MakeVariant(identity),
		"SupportedUriSchemes": dbus.MakeVariant([]string{"file"}),
		"SupportedMimeTypes":  dbus.MakeVariant(supportedMimeTypes),
	}
}

// playerProperties must be called with s.mu held
func (s *MPRISSession) playerProperties() map[string]dbus.Variant {
	loaded := s.metadata.ID != ""
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(s.playbackStatus()),
		"Metadata":       dbus.MakeVariant(s.metadataMap()),
		"Position":       dbus.MakeVariant(s.position.Microseconds()),
		"Rate":           dbus.MakeVariant(s.rate),
		"MinimumRate":    dbus.MakeVariant(minRate),
		"MaximumRate":    dbus.MakeVariant(maxRate),
		"CanGoNext":      dbus.MakeVariant(true),
		"CanGoPrevious":  dbus.MakeVariant(true),
		"CanPlay":        dbus.MakeVariant(loaded),
		"CanPause":       dbus.MakeVariant(loaded),
		"CanSeek":        dbus.MakeVariant(loaded && s.metadata.Duration > 0),
		"CanControl":     dbus.MakeVariant(true),
		"Volume":         dbus.MakeVariant(s.volume),
		"Shuffle":        dbus.MakeVariant(s.shuffle),
		"LoopStatus":     dbus.MakeVariant(string(s.loopStatus)),
	}
}

func (s *MPRISSession) playbackStatus() string {
	switch s.state {
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// trackPath turns a media id into a valid D-Bus object path
func trackPath(id string) dbus.ObjectPath {
	if id == "" {
		return noTrackPath
	}
	return dbus.ObjectPath("/org/playerd/media/" + strings.ReplaceAll(id, "-", "_"))
}

func (s *MPRISSession) metadataMap() map[string]dbus.Variant {
	m := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(trackPath(s.metadata.ID)),
	}
	if s.metadata.Location != "" {
		m["xesam:url"] = dbus.MakeVariant("file://" + s.metadata.Location)
	}
	if s.metadata.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(s.metadata.Title)
	}
	if s.metadata.Artist != "" {
		m["xesam:artist"] = dbus.MakeVariant([]string{s.metadata.Artist})
	}
	if s.metadata.Album != "" {
		m["xesam:album"] = dbus.MakeVariant(s.metadata.Album)
	}
	if s.metadata.Duration > 0 {
		m["mpris:length"] = dbus.MakeVariant(s.metadata.Duration.Microseconds())
	}
	return m
}

func (s *MPRISSession) emitSeeked(position time.Duration) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Emit(dbus.ObjectPath(mprisObjectPath), mprisPlayerInterface+".Seeked", position.Microseconds())
}

func (s *MPRISSession) emitPropertiesChanged(props map[string]dbus.Variant) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		propertiesInterface+".PropertiesChanged",
		mprisPlayerInterface,
		props,
		[]string{},
	)
}

var _ Session = (*MPRISSession)(nil)
