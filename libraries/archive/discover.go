package archive

import (
	"os"
	"path/filepath"

	"github.com/redocdc/core/libraries/logger"
	"github.com/redocdc/core/libraries/redotypes"
)

// Discoverer scans for archived log files and enqueues ones whose
// extracted sequence is at or past a floor sequence (spec §4.3).
type Discoverer struct {
	Format string // the log_archive_format template

	// Roots is an explicit list of paths (file or directory) to scan —
	// the "batch" source.reader.type. When empty, RecoveryDest/DBContext
	// select the "online" two-levels-deep recovery-area scan instead.
	Roots []string

	RecoveryDest string
	DBContext    string
}

// Discover walks the configured roots (or the recovery-area directory) and
// enqueues every candidate whose extracted sequence is >= floor.
func (d *Discoverer) Discover(q *Queue, floor redotypes.Seq) {
	roots := d.Roots
	if len(roots) == 0 && d.RecoveryDest != "" {
		roots = []string{filepath.Join(d.RecoveryDest, d.DBContext, "archivelog")}
	}

	for _, root := range roots {
		d.scanRoot(q, root, floor)
	}
}

func (d *Discoverer) scanRoot(q *Queue, root string, floor redotypes.Seq) {
	info, err := os.Stat(root)
	if err != nil {
		logger.Printf("archive", "scan root %s: %v", root, err)
		return
	}
	if !info.IsDir() {
		d.considerFile(q, root, floor)
		return
	}

	// Two levels deep, per spec §4.3's recovery-area layout.
	dayDirs, err := os.ReadDir(root)
	if err != nil {
		logger.Printf("archive", "read dir %s: %v", root, err)
		return
	}
	for _, dd := range dayDirs {
		if !dd.IsDir() {
			d.considerFile(q, filepath.Join(root, dd.Name()), floor)
			continue
		}
		sub := filepath.Join(root, dd.Name())
		entries, err := os.ReadDir(sub)
		if err != nil {
			logger.Printf("archive", "read dir %s: %v", sub, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			d.considerFile(q, filepath.Join(sub, e.Name()), floor)
		}
	}
}

func (d *Discoverer) considerFile(q *Queue, path string, floor redotypes.Seq) {
	seq, ok := ExtractSequence(d.Format, filepath.Base(path))
	if !ok {
		return
	}
	if seq < floor {
		return
	}
	q.Enqueue(path, seq)
}
