package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/config"
	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/player"
	"github.com/austinkregel/local-media/playerd/internal/queue"
	"github.com/austinkregel/local-media/playerd/internal/render"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// maxLine bounds a single request line
const maxLine = 1 << 20

// Options wires the server to the rest of the daemon. Store, Session,
// Analyzer and Frames are optional.
type Options struct {
	SocketPath string
	Config     *config.Manager
	Player     *player.Controller
	Queue      *queue.MediaQueue[types.QueueItem]
	Store      *queue.Store[types.QueueItem]
	Session    media.Session
	Analyzer   *audio.Analyzer
	Frames     *render.Latest
	Log        *logrus.Entry
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	log        *logrus.Entry
	configMgr  *config.Manager
	player     *player.Controller
	queue      *queue.MediaQueue[types.QueueItem]
	store      *queue.Store[types.QueueItem]
	session    media.Session
	analyzer   *audio.Analyzer
	frames     *render.Latest

	listener net.Listener
	mu       sync.Mutex
	clients  map[net.Conn]*client

	// advancing serializes loading queue items
	advancing sync.Mutex
	current   struct {
		sync.Mutex
		item mo.Option[types.QueueItem]
	}
}

type client struct {
	conn   net.Conn
	log    *logrus.Entry
	write  sync.Mutex
	topics map[Topic]bool // guarded by Server.mu
}

func (c *client) send(data []byte) error {
	c.write.Lock()
	defer c.write.Unlock()
	_, err := c.conn.Write(data)
	return err
}

// NewServer creates a new IPC server
func NewServer(opts Options) (*Server, error) {
	if opts.Player == nil || opts.Queue == nil || opts.Config == nil {
		return nil, errors.New("ipc: player, queue and config are required")
	}
	if opts.Session == nil {
		opts.Session = media.NewNoOpSession()
	}

	s := &Server{
		socketPath: opts.SocketPath,
		log:        logging.OrDefault(opts.Log, "ipc"),
		configMgr:  opts.Config,
		player:     opts.Player,
		queue:      opts.Queue,
		store:      opts.Store,
		session:    opts.Session,
		analyzer:   opts.Analyzer,
		frames:     opts.Frames,
		clients:    make(map[net.Conn]*client),
	}

	if s.analyzer != nil {
		s.analyzer.SetCallback(s.pushAudioData)
	}
	s.queue.SetOnChange(s.queueChanged)
	s.session.SetCommandHandler(media.CommandHandlerFunc(s.onMediaCommand))
	s.syncSession()
	return s, nil
}

// Start listens on the socket and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	// Subscribe before any client can issue a command.
	streams := s.subscribePlayer()
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.WithField("socket", s.socketPath).Info("listening")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.acceptLoop(ctx, listener)
	}()
	go func() {
		defer wg.Done()
		s.forward(ctx, streams)
	}()

	<-ctx.Done()

	s.mu.Lock()
	count := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()
	listener.Close()
	wg.Wait()
	os.RemoveAll(s.socketPath)

	s.log.WithField("clients", count).Info("server stopped")
	return nil
}

// Addr returns the listener address once Start is listening
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}

		c := &client{
			conn:   conn,
			log:    s.log.WithField("client", fmt.Sprintf("%p", conn)),
			topics: make(map[Topic]bool),
		}
		s.mu.Lock()
		s.clients[conn] = c
		count := len(s.clients)
		s.mu.Unlock()

		c.log.WithField("clients", count).Debug("client connected")
		go s.handleConnection(ctx, c)
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.conn)
		count := len(s.clients)
		s.mu.Unlock()
		c.log.WithField("clients", count).Debug("client disconnected")
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		req, err := DecodeRequest(scanner.Bytes())
		if err != nil {
			c.log.WithError(err).Debug("invalid request")
			s.reply(c, NewErrorResponse("invalid request format"))
			continue
		}

		// Polling commands are too frequent to log
		polling := req.Cmd == CmdStatus || req.Cmd == CmdGetAudioData
		log := c.log.WithField("cmd", req.Cmd)
		if !polling {
			log.Debug("command")
		}

		resp := s.handleRequest(ctx, c, req)
		if !resp.Success && !polling {
			log.WithField("error", resp.Error).Info("command failed")
		}
		if err := s.reply(c, resp); err != nil {
			log.WithError(err).Debug("send failed")
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		c.log.WithError(err).Debug("read failed")
	}
}

func (s *Server) reply(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.send(append(data, '\n'))
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdPrepare:
		return s.handlePrepare(ctx, req)
	case CmdPlay:
		return s.execute(ctx, player.Play{})
	case CmdPause:
		return s.execute(ctx, player.Pause{})
	case CmdResume:
		return s.execute(ctx, player.Resume{})
	case CmdStop:
		return s.execute(ctx, player.Stop{})
	case CmdSeek:
		return s.handleSeek(ctx, req)
	case CmdRelease:
		return s.execute(ctx, player.Release{})
	case CmdStatus:
		return s.handleStatus()
	case CmdVolume:
		return s.handleVolume(req)
	case CmdSpeed:
		return s.handleSpeed(req)
	case CmdQueueAdd:
		return s.handleQueueAdd(req)
	case CmdQueueDelete:
		return s.handleQueueDelete(req)
	case CmdQueueReplace:
		return s.handleQueueReplace(req)
	case CmdQueueSelect:
		return s.handleQueueSelect(ctx, req)
	case CmdNext:
		return s.handleAdvance(ctx, s.queue.Next)
	case CmdPrev:
		return s.handleAdvance(ctx, s.queue.Previous)
	case CmdSetShuffle:
		return s.handleSetShuffle(req)
	case CmdSetRepeat:
		return s.handleSetRepeat(req)
	case CmdGetQueue:
		return s.handleGetQueue()
	case CmdGetAudioData:
		return s.handleGetAudioData()
	case CmdSnapshot:
		return s.handleSnapshot()
	case CmdSubscribe:
		return s.handleSubscribe(c, req, true)
	case CmdUnsubscribe:
		return s.handleSubscribe(c, req, false)
	default:
		return NewErrorResponse("unknown command")
	}
}

// decode unmarshals request data into v; absent data leaves v zero
func decode[T any](req *Request) (T, error) {
	var v T
	if len(req.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(req.Data, &v); err != nil {
		return v, fmt.Errorf("invalid %s request", req.Cmd)
	}
	return v, nil
}

func respond(data any) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}
