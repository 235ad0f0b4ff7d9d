package device

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slowReply = 250 * time.Millisecond

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeController answers each CR-terminated command with replies[cmd], or
// echoes the command when no reply is configured. "HANG" is never answered
// and "SLOW" is answered after slowReply.
func fakeController(t *testing.T, replies map[string]string) (addr string, received func() []string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var (
		mu   sync.Mutex
		seen []string
	)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\r')
					if err != nil {
						return
					}
					cmd := strings.TrimSpace(line)
					mu.Lock()
					seen = append(seen, cmd)
					mu.Unlock()

					if cmd == "HANG" {
						continue
					}
					if cmd == "SLOW" {
						time.Sleep(slowReply)
					}
					reply, ok := replies[cmd]
					if !ok {
						reply = cmd
					}
					if _, err := conn.Write([]byte(reply + "\r")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String(), func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
}

func TestTCPClientExecute(t *testing.T) {
	addr, received := fakeController(t, map[string]string{
		"RM": "RM,1",
		"PR": "PR,1,003",
		"TA": "ER,TA,22",
	})

	c := NewTCPClient(addr, time.Second, testLogger())
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	assert.True(t, c.Connected())

	reply, err := c.Execute(ctx, "RM")
	require.NoError(t, err)
	assert.Equal(t, Reply{Text: "RM,1"}, reply)

	reply, err = c.Execute(ctx, "PR")
	require.NoError(t, err)
	assert.Equal(t, "PR,1,003", reply.Text)

	reply, err = c.Execute(ctx, "TA")
	require.NoError(t, err)
	assert.Equal(t, 22, reply.Status)
	assert.Equal(t, "ER,TA,22", reply.Text)

	assert.Equal(t, []string{"RM", "PR", "TA"}, received())
}

func TestTCPClientNotConnected(t *testing.T) {
	c := NewTCPClient("127.0.0.1:1", time.Second, testLogger())
	_, err := c.Execute(context.Background(), "RM")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.Connected())
	assert.NoError(t, c.Disconnect())
}

func TestTCPClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := NewTCPClient(addr, time.Second, testLogger())
	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialing")
}

func TestTCPClientExecuteCancelled(t *testing.T) {
	addr, _ := fakeController(t, nil)

	c := NewTCPClient(addr, 10*time.Second, testLogger())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Execute(ctx, "HANG")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, c.Connected())
}

func TestTCPClientExecuteTimeout(t *testing.T) {
	addr, _ := fakeController(t, nil)

	c := NewTCPClient(addr, 100*time.Millisecond, testLogger())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	_, err := c.Execute(context.Background(), "HANG")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading reply to HANG")
	assert.False(t, c.Connected())
}

func TestTCPClientLateReplyNotReadByNextCommand(t *testing.T) {
	addr, received := fakeController(t, map[string]string{
		"SLOW": "TA,reply",
		"RM":   "RM,reply",
		"PR":   "PR,reply",
	})

	c := NewTCPClient(addr, 100*time.Millisecond, testLogger())
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	_, err := c.Execute(ctx, "SLOW")
	require.Error(t, err)
	assert.False(t, c.Connected())

	_, err = c.Execute(ctx, "RM")
	assert.ErrorIs(t, err, ErrNotConnected)

	// Let the late reply reach the old connection.
	time.Sleep(slowReply + 50*time.Millisecond)

	require.NoError(t, c.Connect(ctx))
	reply, err := c.Execute(ctx, "RM")
	require.NoError(t, err)
	assert.Equal(t, "RM,reply", reply.Text)

	reply, err = c.Execute(ctx, "PR")
	require.NoError(t, err)
	assert.Equal(t, "PR,reply", reply.Text)

	assert.Equal(t, []string{"SLOW", "RM", "PR"}, received())
}

func TestParseReply(t *testing.T) {
	assert.Equal(t, Reply{Text: "RM,0"}, parseReply("RM,0"))
	assert.Equal(t, Reply{Status: 3, Text: "ER,PW,03"}, parseReply("ER,PW,03"))
	assert.Equal(t, Reply{Status: 1, Text: "ER,PW,xx"}, parseReply("ER,PW,xx"))
	assert.Equal(t, Reply{}, parseReply(""))
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a/b/c.jpg"))
	assert.True(t, IsImage("C.JPG"))
	assert.True(t, IsImage("x.bmp"))
	assert.False(t, IsImage("x.txt"))
	assert.False(t, IsImage("jpg"))
}

func TestTCPClientFileDropLogs(t *testing.T) {
	dir := t.TempDir()
	c := NewTCPClient("127.0.0.1:1", time.Second, testLogger())

	var (
		mu      sync.Mutex
		results []ResultEvent
		images  []ImageEvent
	)
	c.OnResultLog(func(ev ResultEvent) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, ev)
	})
	c.OnImageLog(func(ev ImageEvent) {
		mu.Lock()
		defer mu.Unlock()
		images = append(images, ev)
	})

	require.NoError(t, c.StartResultLog(0, dir))
	require.NoError(t, c.StartImageLog(dir))
	assert.True(t, c.ResultLogStarted())
	assert.True(t, c.ImageLogStarted())

	resultPath := filepath.Join(dir, "0001.txt")
	require.NoError(t, os.WriteFile(resultPath, []byte("program=1,result=0\n"), 0o644))

	// Images land in a directory tree named after the record.
	imageDir := filepath.Join(dir, "0001", "cam1")
	require.NoError(t, os.MkdirAll(imageDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imageDir, "img.jpg"), []byte{0xff, 0xd8}, 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) > 0 && len(images) > 0
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, resultPath, results[0].Path)
	assert.Equal(t, 1, images[len(images)-1].Count)
	mu.Unlock()

	require.NoError(t, c.StopResultLog())
	require.NoError(t, c.StopImageLog())
	assert.False(t, c.ResultLogStarted())
	assert.False(t, c.ImageLogStarted())
}

func TestTCPClientLogsOnDifferentDirs(t *testing.T) {
	c := NewTCPClient("127.0.0.1:1", time.Second, testLogger())
	require.NoError(t, c.StartResultLog(0, t.TempDir()))
	defer c.StopResultLog()

	err := c.StartImageLog(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs already started")
}

func TestTCPClientResultLogMissingDir(t *testing.T) {
	c := NewTCPClient("127.0.0.1:1", time.Second, testLogger())
	err := c.StartResultLog(0, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.False(t, c.ResultLogStarted())
}

func TestTCPClientIgnoresNestedText(t *testing.T) {
	dir := t.TempDir()
	c := NewTCPClient("127.0.0.1:1", time.Second, testLogger())

	var mu sync.Mutex
	var results []ResultEvent
	c.OnResultLog(func(ev ResultEvent) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, ev)
	})
	require.NoError(t, c.StartResultLog(0, dir))
	defer c.StopResultLog()

	nested := filepath.Join(dir, "0001")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "notes.txt"), []byte("x"), 0o644))
	top := filepath.Join(dir, "0001.txt")
	require.NoError(t, os.WriteFile(top, []byte("result=0"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) > 0
	}, 3*time.Second, 10*time.Millisecond)

	// Let any late event for the nested file arrive.
	time.Sleep(2 * fileSettle)
	mu.Lock()
	defer mu.Unlock()
	for _, ev := range results {
		assert.Equal(t, top, ev.Path)
	}
}


func TestTCPClientReportsFilesOnceFilled(t *testing.T) {
	dir := t.TempDir()
	c := NewTCPClient("127.0.0.1:1", time.Second, testLogger())

	resultPath := filepath.Join(dir, "0001.txt")
	imageDir := filepath.Join(dir, "0001", "cam1")
	imagePath := filepath.Join(imageDir, "0001.jpg")

	var (
		mu          sync.Mutex
		resultSizes []int64
		imageSizes  []int64
	)
	sizeOf := func(path string) int64 {
		info, err := os.Stat(path)
		if err != nil {
			return -1
		}
		return info.Size()
	}
	c.OnResultLog(func(ev ResultEvent) {
		mu.Lock()
		defer mu.Unlock()
		resultSizes = append(resultSizes, sizeOf(ev.Path))
	})
	c.OnImageLog(func(ImageEvent) {
		mu.Lock()
		defer mu.Unlock()
		imageSizes = append(imageSizes, sizeOf(imagePath))
	})

	require.NoError(t, c.StartResultLog(0, dir))
	require.NoError(t, c.StartImageLog(dir))
	defer c.StopResultLog()
	defer c.StopImageLog()

	require.NoError(t, os.MkdirAll(imageDir, 0o755))
	for _, path := range []string{resultPath, imagePath} {
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	time.Sleep(2 * fileSettle)
	mu.Lock()
	assert.Empty(t, resultSizes, "empty record reported")
	assert.Empty(t, imageSizes, "empty image reported")
	mu.Unlock()

	require.NoError(t, os.WriteFile(resultPath, []byte("program=1,result=0\n"), 0o644))
	require.NoError(t, os.WriteFile(imagePath, []byte{0xff, 0xd8, 0xff}, 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(resultSizes) > 0 && len(imageSizes) > 0
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, size := range resultSizes {
		assert.Positive(t, size)
	}
	for _, size := range imageSizes {
		assert.Positive(t, size)
	}
}
