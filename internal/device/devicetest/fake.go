// Package devicetest provides a scripted device.Client for tests.
package devicetest

import (
	"context"
	"sync"

	"github.com/sznuper/cvtrigger/internal/device"
)

// Fake is an in-memory device.Client. Replies are queued per command: each
// Execute pops the next one, and the last reply is repeated once the queue
// is down to a single entry. Commands without a scripted reply are echoed
// back with status 0.
type Fake struct {
	// OnCommand, when set, runs after a command is recorded and before its
	// reply is returned. Use it to fire log notifications, e.g. after "TA".
	OnCommand func(f *Fake, command string)

	ConnectErr   error
	ResultLogErr error
	ImageLogErr  error

	mu        sync.Mutex
	replies   map[string][]device.Reply
	errs      map[string]error
	commands  []string
	connected bool
	resultLog bool
	imageLog  bool
	logDir    string
	onResult  func(device.ResultEvent)
	onImage   func(device.ImageEvent)
	events    []string
}

var _ device.Client = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		replies: make(map[string][]device.Reply),
		errs:    make(map[string]error),
	}
}

// Reply queues reply texts with status 0 for command.
func (f *Fake) Reply(command string, texts ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		f.replies[command] = append(f.replies[command], device.Reply{Text: t})
	}
	return f
}

// Fail makes command return a non-zero status with the given text.
func (f *Fake) Fail(command string, status int, text string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[command] = []device.Reply{{Status: status, Text: text}}
	return f
}

// Error makes command fail at the transport level. Like the TCP client, a
// transport failure drops the connection. A nil err clears the failure.
func (f *Fake) Error(command string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[command] = err
	return f
}

// Commands returns every command executed so far, in order.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Events returns the lifecycle calls made so far ("connect", "start-result",
// "stop-image", ...), in order. A connection lost to a transport error is
// recorded as "drop".
func (f *Fake) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// LogDir is the directory passed to the last Start*Log call.
func (f *Fake) LogDir() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logDir
}

// EmitResult fires the result notification if the result log is running.
func (f *Fake) EmitResult(path string) {
	f.mu.Lock()
	h, on := f.onResult, f.resultLog
	f.mu.Unlock()
	if on && h != nil {
		h(device.ResultEvent{Path: path})
	}
}

// EmitImage fires the image notification if the image log is running.
func (f *Fake) EmitImage() {
	f.mu.Lock()
	h, on := f.onImage, f.imageLog
	f.mu.Unlock()
	if on && h != nil {
		h(device.ImageEvent{Count: 1})
	}
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "connect")
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "disconnect")
	f.connected = false
	return nil
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Execute(ctx context.Context, command string) (device.Reply, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	hook := f.OnCommand
	f.mu.Unlock()

	if hook != nil {
		hook(f, command)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[command]; err != nil {
		f.connected = false
		f.events = append(f.events, "drop")
		return device.Reply{}, err
	}
	queue := f.replies[command]
	if len(queue) == 0 {
		return device.Reply{Text: command}, nil
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.replies[command] = queue[1:]
	}
	return reply, nil
}

func (f *Fake) StartResultLog(setting int, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "start-result")
	if f.ResultLogErr != nil {
		return f.ResultLogErr
	}
	f.resultLog = true
	f.logDir = dir
	return nil
}

func (f *Fake) StopResultLog() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop-result")
	f.resultLog = false
	return nil
}

func (f *Fake) ResultLogStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resultLog
}

func (f *Fake) StartImageLog(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "start-image")
	if f.ImageLogErr != nil {
		return f.ImageLogErr
	}
	f.imageLog = true
	f.logDir = dir
	return nil
}

func (f *Fake) StopImageLog() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop-image")
	f.imageLog = false
	return nil
}

func (f *Fake) ImageLogStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imageLog
}

func (f *Fake) OnResultLog(h func(device.ResultEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onResult = h
}

func (f *Fake) OnImageLog(h func(device.ImageEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onImage = h
}
