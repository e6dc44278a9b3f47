package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  Config
		want Driver
	}{
		{Config{FSRoot: t.TempDir()}, DriverFilesystem},
		{Config{Driver: DriverFilesystem, FSRoot: t.TempDir()}, DriverFilesystem},
		{Config{Driver: DriverMemory}, DriverMemory},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("Open(%+v): %v", tc.cfg, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("expected driver %s, got %s", tc.want, store.Driver())
		}
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

// Every driver must agree on the create-only and not-found contract.
func TestDriversShareContract(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	for _, store := range []Store{NewMemory(), fsStore, NewMockS3ForTests()} {
		if _, err := store.Put(ctx, "scans/box1/a.json", bytes.NewReader([]byte(`{}`)), PutOptions{ContentType: "application/json"}); err != nil {
			t.Fatalf("%s: Put: %v", store.Driver(), err)
		}
		if _, err := store.Put(ctx, "scans/box1/a.json", bytes.NewReader(nil), PutOptions{}); !errors.Is(err, ErrExists) {
			t.Fatalf("%s: expected ErrExists, got %v", store.Driver(), err)
		}
		if _, _, err := store.Get(ctx, "scans/box1/missing.json"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", store.Driver(), err)
		}
		info, rc, err := store.Get(ctx, "scans/box1/a.json")
		if err != nil {
			t.Fatalf("%s: Get: %v", store.Driver(), err)
		}
		body, _ := io.ReadAll(rc)
		_ = rc.Close()
		if string(body) != `{}` || info.Key != "scans/box1/a.json" {
			t.Fatalf("%s: unexpected blob %q %+v", store.Driver(), body, info)
		}
		list, err := store.List(ctx, "scans/box1/")
		if err != nil || len(list) != 1 {
			t.Fatalf("%s: List: %v %v", store.Driver(), list, err)
		}
	}
}
