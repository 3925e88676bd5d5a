package mix_states_lib

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

const destructionMarker = "destruction READ trans: "

// Destruction is a READ transaction record of the client log, field name to value.
type Destruction map[string]string

// ParseDestruction extracts the READ destruction record of a client log line.
func ParseDestruction(line string) (Destruction, bool) {
	start := strings.Index(line, destructionMarker)
	if start == -1 {
		return nil, false
	}
	d := Destruction{}
	for _, field := range strings.Split(strings.TrimSpace(line[start:]), ", ") {
		kv := strings.SplitN(strings.TrimSpace(field), ": ", 2)
		if len(kv) == 2 {
			d[kv[0]] = kv[1]
		}
	}
	return d, true
}

// Host the transaction was served by.
func (d Destruction) Host() string {
	return strings.SplitN(d["st"], ":", 2)[0]
}

// Time the transaction took, in microseconds.
func (d Destruction) Time() (int, error) {
	t, err := strconv.Atoi(d["time"])
	return t, errors.Wrapf(err, "destruction time %q", d["time"])
}

// TransSource yields the READ transactions as the client logs them.
type TransSource interface {
	Next(ctx context.Context) (Destruction, error)
}

// LogFollower tails a client log like tail -f and hands out its destruction records.
type LogFollower struct {
	watcher *fsnotify.Watcher
	file    *os.File
	reader  *bufio.Reader
	partial string
}

// FollowLog starts reading path from its current end.
func FollowLog(path string) (*LogFollower, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open client log")
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "seek client log")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "watch client log")
	}
	if err := w.Add(path); err != nil {
		w.Close()
		f.Close()
		return nil, errors.Wrapf(err, "watch %s", path)
	}
	logf.Log.Info("Following client log", "path", path)
	return &LogFollower{watcher: w, file: f, reader: bufio.NewReader(f)}, nil
}

// line returns the next complete line, waiting for the log to grow.
func (l *LogFollower) line(ctx context.Context) (string, error) {
	for {
		chunk, err := l.reader.ReadString('\n')
		l.partial += chunk
		if err == nil {
			line := l.partial
			l.partial = ""
			return line, nil
		}
		if err != io.EOF {
			return "", errors.Wrap(err, "read client log")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-l.watcher.Errors:
			return "", errors.Wrap(err, "watch client log")
		case <-l.watcher.Events:
		}
	}
}

// Next blocks until the next destruction record is logged.
func (l *LogFollower) Next(ctx context.Context) (Destruction, error) {
	for {
		line, err := l.line(ctx)
		if err != nil {
			return nil, err
		}
		if d, ok := ParseDestruction(line); ok {
			return d, nil
		}
	}
}

func (l *LogFollower) Close() error {
	return errors.CombineErrors(l.watcher.Close(), l.file.Close())
}
