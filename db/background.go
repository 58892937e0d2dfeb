package db

// background.go implements the background flush and compaction loop.
//
// One goroutine per database waits on bgCond. A rotated memtable is
// flushed to the storage engine first; the engine is then asked whether
// it wants to compact, with the oldest pinned version as the horizon.
// Failures are sticky: they disable writes until the database is
// reopened.
//
// Reference: LevelDB db/db_impl.cc BackgroundCall, CompactMemTable

import (
	"time"

	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/memtable"
)

func (db *DBImpl) backgroundLoop() {
	defer close(db.bgDone)

	db.mu.Lock()
	defer db.mu.Unlock()
	for {
		for !db.closing && (!db.bgWork || db.bgErr != nil) {
			db.bgCond.Wait()
		}
		if db.closing {
			return
		}
		db.bgWork = false

		if imm := db.imm; imm != nil {
			db.mu.Unlock()
			err := db.flushMemTable(imm)
			db.mu.Lock()
			if err != nil {
				db.setBackgroundErrorLocked(err)
				continue
			}
			db.imm = nil
			imm.Unref()
			db.bgCond.Broadcast()
		}

		db.mu.Unlock()
		err := db.maybeCompact()
		db.mu.Lock()
		if err != nil {
			db.setBackgroundErrorLocked(err)
		}
	}
}

func (db *DBImpl) flushMemTable(imm *memtable.MemTable) error {
	start := time.Now()
	if err := db.engine.Flush(imm, imm.MaxVersion()); err != nil {
		return classify(err)
	}
	db.log.Infof(logging.NSFlush+"flushed %d entries (%d bytes) up to version %d in %v",
		imm.Count(), imm.ApproximateMemoryUsage(), imm.MaxVersion(), time.Since(start))
	return nil
}

func (db *DBImpl) maybeCompact() error {
	oldest := db.snapshots.oldest(db.currentVersion)
	return classify(db.engine.Compact(oldest, false))
}
