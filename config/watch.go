package config

import (
	"context"
	"os"
	"time"

	"sip-core/sipconfig"
)

// Watcher polls the sip_config override file mtime and re-parses it on
// change. It is the fallback for filesystems where fsnotify is unreliable.
type Watcher struct {
	Path     string
	Interval time.Duration
}

// Start begins polling until ctx is done; onUpdate receives every re-parse,
// including failed ones.
func (w Watcher) Start(ctx context.Context, onUpdate func(sipconfig.SipConfiguration, error)) error {
	if w.Interval <= 0 {
		w.Interval = 2 * time.Second
	}
	var lastMod time.Time
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := readFileInfo(w.Path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				cfg, err := sipconfig.ParseFile(w.Path)
				if onUpdate != nil {
					onUpdate(cfg, err)
				}
			}
		}
	}
}

// readFileInfo is extracted for testing/mocking.
var readFileInfo = func(path string) (info interface{ ModTime() time.Time }, err error) {
	return os.Stat(path)
}
