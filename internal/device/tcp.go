package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotConnected is returned by Execute before Connect or after Disconnect.
var ErrNotConnected = errors.New("not connected")

// ResultExt is the extension of result log record files.
const ResultExt = ".txt"

// ImageExts are the extensions written by the image log.
var ImageExts = []string{".jpg", ".jpeg", ".bmp", ".png"}

// IsImage reports whether path has one of ImageExts, ignoring case.
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImageExts {
		if ext == e {
			return true
		}
	}
	return false
}

// TCPClient sends CR-terminated text commands to the controller and maps
// "ER,<cmd>,<code>" replies to a non-zero Reply.Status. The result and image
// logs are file drops: the controller writes into a directory this process
// can see, and a watcher on that directory raises the notifications.
type TCPClient struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	logMu    sync.Mutex
	watcher  *logWatcher
	resultOn bool
	imageOn  bool
	setting  int
	images   map[string]struct{}
	onResult func(ResultEvent)
	onImage  func(ImageEvent)
}

var _ Client = (*TCPClient)(nil)

// NewTCPClient creates a client for addr (host:port). timeout bounds the
// dial and every command round trip.
func NewTCPClient(addr string, timeout time.Duration, logger *slog.Logger) *TCPClient {
	return &TCPClient{
		addr:    addr,
		timeout: timeout,
		logger:  logger.With("controller", addr),
		images:  make(map[string]struct{}),
	}
}

// Connect dials the controller. It is a no-op when already connected.
func (c *TCPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.addr, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.logger.Debug("connected")
	return nil
}

// Disconnect closes the command connection.
func (c *TCPClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.logger.Debug("disconnected")
	return err
}

// Connected reports whether a command connection is open.
func (c *TCPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Execute sends one command and waits for its reply line. Any transport
// failure, a timeout or cancellation included, closes the connection: a late
// reply would otherwise be read as the reply to the next command. Connected
// reports false afterwards and the caller has to Connect again.
func (c *TCPClient) Execute(ctx context.Context, command string) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return Reply{}, ErrNotConnected
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.dropLocked(command, err)
		return Reply{}, fmt.Errorf("setting deadline: %w", err)
	}

	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write([]byte(command + "\r")); err != nil {
		c.dropLocked(command, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		return Reply{}, fmt.Errorf("sending %s: %w", command, err)
	}

	line, err := c.reader.ReadString('\r')
	if err != nil {
		c.dropLocked(command, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		return Reply{}, fmt.Errorf("reading reply to %s: %w", command, err)
	}

	reply := parseReply(strings.TrimSpace(line))
	c.logger.Debug("command executed", "command", command, "reply", reply.Text, "status", reply.Status)
	return reply, nil
}

// dropLocked closes the connection after a failed round trip. It must be
// called with mu held.
func (c *TCPClient) dropLocked(command string, cause error) {
	c.logger.Warn("dropping connection", "command", command, "error", cause)
	_ = c.conn.Close()
	c.conn = nil
	c.reader = nil
}

// parseReply maps "ER,<cmd>,<code>" to Status=code. Any other text is a
// successful reply.
func parseReply(text string) Reply {
	if !strings.HasPrefix(text, "ER,") {
		return Reply{Text: text}
	}

	parts := strings.Split(text, ",")
	code, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil || code == 0 {
		code = 1
	}
	return Reply{Status: code, Text: text}
}

// OnResultLog registers the result notification handler.
func (c *TCPClient) OnResultLog(h func(ResultEvent)) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.onResult = h
}

// OnImageLog registers the image notification handler.
func (c *TCPClient) OnImageLog(h func(ImageEvent)) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.onImage = h
}

// StartResultLog starts reporting result record files written under dir.
func (c *TCPClient) StartResultLog(setting int, dir string) error {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	if err := c.ensureWatcher(dir); err != nil {
		return err
	}
	c.setting = setting
	c.resultOn = true
	return nil
}

// StopResultLog stops result notifications.
func (c *TCPClient) StopResultLog() error {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	c.resultOn = false
	return c.releaseWatcher()
}

// ResultLogStarted reports whether the result log is active.
func (c *TCPClient) ResultLogStarted() bool {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	return c.resultOn
}

// StartImageLog starts reporting image files written under dir.
func (c *TCPClient) StartImageLog(dir string) error {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	if err := c.ensureWatcher(dir); err != nil {
		return err
	}
	c.imageOn = true
	return nil
}

// StopImageLog stops image notifications.
func (c *TCPClient) StopImageLog() error {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	c.imageOn = false
	return c.releaseWatcher()
}

// ImageLogStarted reports whether the image log is active.
func (c *TCPClient) ImageLogStarted() bool {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	return c.imageOn
}

// ensureWatcher must be called with logMu held.
func (c *TCPClient) ensureWatcher(dir string) error {
	if c.watcher != nil {
		if c.watcher.dir != dir {
			return fmt.Errorf("logs already started on %s", c.watcher.dir)
		}
		return nil
	}

	w, err := newLogWatcher(dir, c.logger, c.dispatch)
	if err != nil {
		return err
	}
	c.watcher = w
	return nil
}

// releaseWatcher must be called with logMu held.
func (c *TCPClient) releaseWatcher() error {
	if c.watcher == nil || c.resultOn || c.imageOn {
		return nil
	}
	w := c.watcher
	c.watcher = nil

	// The event loop may be blocked on logMu in dispatch.
	c.logMu.Unlock()
	err := w.Close()
	c.logMu.Lock()
	return err
}

func (c *TCPClient) dispatch(path string) {
	c.logMu.Lock()
	var (
		resultEv *ResultEvent
		imageEv  *ImageEvent
	)
	switch {
	case c.resultOn && c.isRecord(path):
		resultEv = &ResultEvent{Setting: c.setting, Path: path}
	case c.imageOn && IsImage(path):
		c.images[path] = struct{}{}
		imageEv = &ImageEvent{Count: len(c.images)}
	}
	onResult, onImage := c.onResult, c.onImage
	c.logMu.Unlock()

	if resultEv != nil && onResult != nil {
		onResult(*resultEv)
	}
	if imageEv != nil && onImage != nil {
		onImage(*imageEv)
	}
}

// isRecord reports whether path is a result record: a .txt file directly in
// the log directory. Text files inside image directories are ignored. It
// must be called with logMu held.
func (c *TCPClient) isRecord(path string) bool {
	if c.watcher == nil || !strings.EqualFold(filepath.Ext(path), ResultExt) {
		return false
	}
	return filepath.Dir(filepath.Clean(path)) == filepath.Clean(c.watcher.dir)
}
