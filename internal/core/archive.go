package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"tubetrack/internal/blob"
	"tubetrack/internal/config"
	"tubetrack/pkg/gridpos"
)

// scanPrefix roots every archived scan key.
const scanPrefix = "scans/"

// scanTimeLayout sorts lexicographically in time order.
const scanTimeLayout = "20060102T150405.000000000Z"

// ScanRecord is the archived form of one decoded scan.
type ScanRecord struct {
	BoxName   string       `json:"boxname"`
	ScannedAt time.Time    `json:"scanned_at"`
	Grid      gridpos.Grid `json:"grid"`
}

// ScanArchive keeps decoded scan grids in a blob store under
// scans/<box>/<timestamp>.json.
type ScanArchive struct {
	store blob.Store
}

// NewScanArchive wraps store.
func NewScanArchive(store blob.Store) *ScanArchive {
	return &ScanArchive{store: store}
}

// OpenScanArchive opens the blob store named by cfg. The none driver yields a
// nil archive and no error.
func OpenScanArchive(ctx context.Context, cfg config.BlobConfig) (*ScanArchive, error) {
	if cfg.Driver == "" || cfg.Driver == config.BlobNone {
		return nil, nil
	}
	store, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Driver),
		FSRoot: cfg.FSRoot,
		S3: blob.S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
			Prefix:          cfg.S3.Prefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open scan archive: %w", err)
	}
	return NewScanArchive(store), nil
}

// Store returns the underlying blob store.
func (a *ScanArchive) Store() blob.Store { return a.store }

// ScanKey returns the archive key of a scan of box taken at at. Box names
// that are empty or contain a slash are rejected.
func ScanKey(box string, at time.Time) (string, error) {
	if err := blob.ValidateSegment(box); err != nil {
		return "", fmt.Errorf("box name %q cannot be used as an archive key: %w", box, err)
	}
	return path.Join(scanPrefix, box, at.UTC().Format(scanTimeLayout)+".json"), nil
}

// Save stores grid as a scan of box taken at at and returns its key.
func (a *ScanArchive) Save(ctx context.Context, box string, grid gridpos.Grid, at time.Time) (string, error) {
	key, err := ScanKey(box, at)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(ScanRecord{BoxName: box, ScannedAt: at.UTC(), Grid: grid})
	if err != nil {
		return "", fmt.Errorf("encode scan: %w", err)
	}
	_, err = a.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"boxname": box},
	})
	if err != nil {
		return "", fmt.Errorf("archive scan: %w", err)
	}
	return key, nil
}

// History lists the archived scans of box, oldest first.
func (a *ScanArchive) History(ctx context.Context, box string) ([]blob.Info, error) {
	prefix := path.Join(scanPrefix, box) + "/"
	infos, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return infos, nil
}

// Load reads the scan stored at key.
func (a *ScanArchive) Load(ctx context.Context, key string) (ScanRecord, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return ScanRecord{}, err
	}
	defer func() { _ = rc.Close() }()
	var rec ScanRecord
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return ScanRecord{}, fmt.Errorf("decode scan %s: %w", key, err)
	}
	return rec, nil
}

// Latest returns the most recent scan of box. ok is false when box has no
// archived scans.
func (a *ScanArchive) Latest(ctx context.Context, box string) (rec ScanRecord, ok bool, err error) {
	infos, err := a.History(ctx, box)
	if err != nil || len(infos) == 0 {
		return ScanRecord{}, false, err
	}
	rec, err = a.Load(ctx, infos[len(infos)-1].Key)
	if errors.Is(err, blob.ErrNotFound) {
		return ScanRecord{}, false, nil
	}
	return rec, err == nil, err
}
