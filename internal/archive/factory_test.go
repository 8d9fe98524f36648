package archive_test

import (
	"context"
	"testing"

	"taxledger/internal/archive"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("TAXLEDGER_ARCHIVE_DRIVER", "memory")
	store, err := archive.Open(ctx)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if store.Driver() != archive.DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	t.Setenv("TAXLEDGER_ARCHIVE_DRIVER", "fs")
	t.Setenv("TAXLEDGER_ARCHIVE_FS_ROOT", t.TempDir())
	store, err = archive.Open(ctx)
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if store.Driver() != archive.DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	t.Setenv("TAXLEDGER_ARCHIVE_DRIVER", "s3")
	t.Setenv("TAXLEDGER_ARCHIVE_S3_BUCKET", "")
	if _, err := archive.Open(ctx); err == nil {
		t.Fatalf("expected missing bucket error")
	}

	t.Setenv("TAXLEDGER_ARCHIVE_DRIVER", "bogus")
	if _, err := archive.Open(ctx); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
