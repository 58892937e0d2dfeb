package db

// destroy.go implements DestroyDB and RepairDB.
//
// Reference: LevelDB db/db_impl.cc DestroyDB, db/repair.cc

import (
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/storage/leveldbstore"
	"github.com/aalhour/cobblekv/internal/storage/tablestore"
)

// DestroyDB removes every file of the database at path, and the directory
// when nothing else is left in it. A missing database is not an error.
// The database must not be open.
func DestroyDB(path string, opts *Options) error {
	o, err := sanitize(opts)
	if err != nil {
		return err
	}
	if o.Engine == EngineLevelDB {
		err = leveldbstore.Destroy(path, o.storageOptions())
	} else {
		err = tablestore.Destroy(path, o.storageOptions())
	}
	return classify(err)
}

// RepairDB salvages as much data as possible from a damaged database.
// Some data may be lost, so call it only when Open fails with
// ErrCorruption.
func RepairDB(path string, opts *Options) error {
	o, err := sanitize(opts)
	if err != nil {
		return err
	}
	o.InfoLog.Infof(logging.NSRepair+"repairing %s with engine %s", path, o.Engine)
	if o.Engine == EngineLevelDB {
		err = leveldbstore.Repair(path, o.storageOptions())
	} else {
		err = tablestore.Repair(path, o.storageOptions())
	}
	return classify(err)
}
