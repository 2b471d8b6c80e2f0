package builds

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/kilnworks/kiln/lib/paths"
)

const logPollInterval = 200 * time.Millisecond

// FollowLogs streams the build log line by line: the full log so far,
// then lines as commands append them. The channel closes when the
// build reaches a terminal status and the log is drained, or when ctx
// is cancelled. A terminal build gets its complete log and an
// immediately closed channel.
func (m *manager) FollowLogs(ctx context.Context, id string) (<-chan string, error) {
	if _, err := readMetadata(m.paths, id); err != nil {
		return nil, err
	}

	out := make(chan string, 100)

	go func() {
		defer close(out)

		var offset int64
		var partial []byte

		// emit splits data into lines and sends them. Returns false
		// when the subscriber went away.
		emit := func(data []byte) bool {
			partial = append(partial, data...)
			for {
				i := bytes.IndexByte(partial, '\n')
				if i < 0 {
					return true
				}
				line := string(partial[:i])
				partial = partial[i+1:]
				select {
				case out <- line:
				case <-ctx.Done():
					return false
				}
			}
		}

		ticker := time.NewTicker(logPollInterval)
		defer ticker.Stop()

		for {
			// Observe the status before reading, so lines written up
			// to and including the terminal metadata write are never
			// dropped: anything the build wrote before completing is
			// visible to the read below.
			meta, err := readMetadata(m.paths, id)
			terminal := err != nil || isTerminalStatus(meta.Status)

			data, err := readLogAt(m.paths, id, offset)
			if err == nil && len(data) > 0 {
				offset += int64(len(data))
				if !emit(data) {
					return
				}
				continue
			}

			if terminal {
				if len(partial) > 0 {
					select {
					case out <- string(partial):
					case <-ctx.Done():
					}
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

// readLogAt reads the build log from offset to EOF. A log file that
// does not exist yet reads as empty.
func readLogAt(p *paths.Paths, buildID string, offset int64) ([]byte, error) {
	f, err := os.Open(p.BuildLog(buildID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}
