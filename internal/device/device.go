// Package device talks to the vision controller: text commands over TCP, and
// result/image log notifications raised when the controller's log output
// lands in the local output directory.
package device

import "context"

// Reply is the controller's answer to one command. Status is zero on
// success; otherwise it carries the controller's error code.
type Reply struct {
	Status int
	Text   string
}

// ResultEvent reports that the result log wrote a record file.
type ResultEvent struct {
	Status  int
	Drive   int
	Setting int
	Path    string
}

// ImageEvent reports that the image log wrote an image.
type ImageEvent struct {
	Status    int
	Drive     int
	Setting   int
	Condition int
	Count     int
}

// Client is the controller session consumed by the runner. Notification
// handlers are called from the client's own goroutines, in no particular
// order relative to each other.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool

	Execute(ctx context.Context, command string) (Reply, error)

	StartResultLog(setting int, dir string) error
	StopResultLog() error
	ResultLogStarted() bool

	StartImageLog(dir string) error
	StopImageLog() error
	ImageLogStarted() bool

	OnResultLog(func(ResultEvent))
	OnImageLog(func(ImageEvent))
}
