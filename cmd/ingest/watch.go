package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/CodeChampian/safebot/engine/ingest"
	"github.com/CodeChampian/safebot/pkg/metrics"
	"github.com/google/uuid"
)

// watcher ingests files dropped under dir/<vendor_id>/. A file is processed
// again when its size or modification time changes; re-ingestion reuses the
// document id derived from its path, so earlier chunks are replaced.
type watcher struct {
	dir       string
	stateFile string
	ingester  ingest.Ingester
	log       *slog.Logger

	processed map[string]bool

	files  *metrics.Counter
	errors *metrics.Counter
	queue  *metrics.Gauge
}

func newWatcher(dir, stateFile string, ing ingest.Ingester, reg *metrics.Registry, log *slog.Logger) *watcher {
	return &watcher{
		dir:       dir,
		stateFile: stateFile,
		ingester:  ing,
		log:       log,
		processed: loadState(stateFile),
		files:     reg.Counter("safebot_watch_files_total", "Dropped files ingested"),
		errors:    reg.Counter("safebot_watch_errors_total", "Dropped files that failed"),
		queue:     reg.Gauge("safebot_watch_queue_depth", "Dropped files waiting in the current scan"),
	}
}

type pending struct {
	key, path, vendor, rel string
}

// scan walks the drop directory once and returns the number of files ingested
// and failed.
func (w *watcher) scan(ctx context.Context) (int, int) {
	todo, err := w.pending()
	if err != nil {
		w.errors.Inc()
		w.log.Error("watch: scan failed", "dir", w.dir, "error", err)
		return 0, 1
	}
	w.queue.Set(int64(len(todo)))
	defer w.queue.Set(0)

	count, errs := 0, 0
	for _, p := range todo {
		if ctx.Err() != nil {
			break
		}
		w.queue.Dec()
		res, err := w.ingester.Ingest(ctx, ingest.Request{
			FilePath:   p.path,
			DocumentID: documentID(p.rel),
			VendorID:   p.vendor,
			Filename:   filepath.Base(p.path),
		})
		if err != nil {
			// Left out of the state so the next scan retries it.
			w.errors.Inc()
			w.log.Warn("watch: ingest failed, will retry on next scan", "file", p.rel, "error", err)
			errs++
			continue
		}
		w.files.Inc()
		w.log.Info("watch: file done", "file", p.rel, "chunks", res.Chunks)
		w.processed[p.key] = true
		count++
	}
	if count > 0 {
		if err := saveState(w.stateFile, w.processed); err != nil {
			w.log.Warn("watch: save state failed", "error", err)
		}
	}
	return count, errs
}

func (w *watcher) pending() ([]pending, error) {
	vendors, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var out []pending
	for _, v := range vendors {
		if !v.IsDir() || strings.HasPrefix(v.Name(), ".") {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(w.dir, v.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !ingest.Supported(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			rel := v.Name() + "/" + e.Name()
			key := fmt.Sprintf("%s:%d:%d", rel, info.Size(), info.ModTime().UnixNano())
			if w.processed[key] {
				continue
			}
			out = append(out, pending{key: key, path: filepath.Join(w.dir, v.Name(), e.Name()), vendor: v.Name(), rel: rel})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

// documentID is stable for a vendor-relative path.
func documentID(rel string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("safebot-drop:"+rel)).String()
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
