// Package gammalib keeps custom tone curves on disk.  The driver's gamma cache
// is volatile, so tables uploaded by hand are saved here and replayed into the
// cache when the server starts.
package gammalib

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/gamma"
	"golang.org/x/crypto/blake2b"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// ErrDuplicate is returned when the same table is already saved under another hash
var ErrDuplicate = errors.New("table already saved")

// Entry is one saved table
type Entry struct {
	Hash16    uint16    `gorm:"primarykey;autoIncrement:false" json:"hash16"`
	Name      string    `gorm:"size:64" json:"name"`
	Digest    []byte    `gorm:"uniqueIndex;size:32" json:"-"`
	Table     []byte    `json:"-"`
	CreatedAt time.Time `json:"created"`
}

// TableName specifies the table name for GORM
func (Entry) TableName() string {
	return "gamma_tables"
}

// Values decodes the stored table
func (e Entry) Values() ([gamma.Len]uint16, error) {
	var t [gamma.Len]uint16
	if len(e.Table) != 2*gamma.Len {
		return t, fmt.Errorf("%w: stored table %04x has %d bytes", camerr.ErrInvalidArgument, e.Hash16, len(e.Table))
	}
	for i := range t {
		t[i] = binary.LittleEndian.Uint16(e.Table[2*i:])
	}
	return t, nil
}

func pack(t []uint16) []byte {
	b := make([]byte, 2*len(t))
	for i, v := range t {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}

// Digest is the blake2b-256 sum of the packed table
func Digest(t []uint16) []byte {
	sum := blake2b.Sum256(pack(t))
	return sum[:]
}

// Adder is the part of gamma.Engine used by Replay
type Adder interface {
	AddCustomRaw(hash16 uint16, raw []uint16) (uint16, error)
}

// Library is a table store backed by sqlite
type Library struct {
	db *gorm.DB
}

// Open opens or creates the library at path.  ":memory:" gives a private
// in-memory library.  l may be nil to silence the database logger.
func Open(path string, l *log.Logger) (*Library, error) {
	gormLog := logger.Default.LogMode(logger.Silent)
	if l != nil {
		gormLog = logger.New(l, logger.Config{
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every connection to :memory: is a different database
		sqlDB.SetMaxOpenConns(1)
	} else if _, err = sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, err
	}
	if err = db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Library{db: db}, nil
}

// Close closes the database
func (lib *Library) Close() error {
	sqlDB, err := lib.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save stores t under hash16, replacing what was there.  If the same table is
// saved under another hash, that entry is returned with ErrDuplicate.
func (lib *Library) Save(hash16 uint16, name string, t []uint16) (Entry, error) {
	if len(t) != gamma.Len {
		return Entry{}, fmt.Errorf("%w: table has %d elements, needs %d", camerr.ErrInvalidArgument, len(t), gamma.Len)
	}
	e := Entry{Hash16: hash16, Name: name, Digest: Digest(t), Table: pack(t)}
	var existing Entry
	err := lib.db.Where("digest = ?", e.Digest).First(&existing).Error
	switch {
	case err == nil && existing.Hash16 != hash16:
		return existing, fmt.Errorf("%w as %04x", ErrDuplicate, existing.Hash16)
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return Entry{}, err
	}
	e.CreatedAt = time.Now()
	return e, lib.db.Save(&e).Error
}

// Get returns the entry saved under hash16
func (lib *Library) Get(hash16 uint16) (Entry, error) {
	var e Entry
	err := lib.db.First(&e, "hash16 = ?", hash16).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return e, fmt.Errorf("%w: no saved table %04x", camerr.ErrNotFound, hash16)
	}
	return e, err
}

// List returns every entry, ordered by hash
func (lib *Library) List() ([]Entry, error) {
	var es []Entry
	err := lib.db.Order("hash16").Find(&es).Error
	return es, err
}

// Delete removes the entry saved under hash16
func (lib *Library) Delete(hash16 uint16) error {
	res := lib.db.Delete(&Entry{}, "hash16 = ?", hash16)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: no saved table %04x", camerr.ErrNotFound, hash16)
	}
	return nil
}

// Replay adds every saved table to the cache and returns how many were added
func (lib *Library) Replay(a Adder) (int, error) {
	es, err := lib.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range es {
		t, err := e.Values()
		if err != nil {
			return n, err
		}
		if _, err = a.AddCustomRaw(e.Hash16, t[:]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
