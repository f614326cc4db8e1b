// Package transfer implements the control plane's async copy worker: a
// Transfer row names a source URI and a destination pool; the runner fetches
// the source into the pool's directory, reports progress on the transfer
// row, and registers the result as a StorageObject.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/logger"
)

// Runner executes transfers against a Store. One Run call handles one
// transfer from pending to a terminal status; callers run it on its own
// goroutine.
type Runner struct {
	store  *cpstore.Store
	client *http.Client
	log    *slog.Logger
}

func NewRunner(store *cpstore.Store, cfg logger.Config) *Runner {
	return &Runner{
		store:  store,
		client: &http.Client{Timeout: 30 * time.Minute},
		log:    logger.NewSubsystemLogger(logger.SubsystemStore, cfg),
	}
}

// Run drives one transfer to completion: fetch the source, write it into
// the pool's directory, then create the StorageObject and mark the transfer
// succeeded. Any failure marks the transfer failed with the error recorded;
// a partially written destination file is removed.
func (r *Runner) Run(ctx context.Context, transferID, objectName, objectType string) {
	if err := r.run(ctx, transferID, objectName, objectType); err != nil {
		r.log.Error("transfer failed", "transfer_id", transferID, "error", err)
		_ = r.store.FailTransfer(context.WithoutCancel(ctx), transferID, err.Error())
	}
}

func (r *Runner) run(ctx context.Context, transferID, objectName, objectType string) error {
	t, err := r.store.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	pool, err := r.store.GetStoragePool(ctx, t.PoolID)
	if err != nil {
		return err
	}
	poolPath := pool.Config["path"]
	if poolPath == "" {
		return errs.Wrap(errs.ErrInvalidConfig, "storage pool "+pool.ID+" has no path configured", nil)
	}

	if err := r.store.UpdateTransferProgress(ctx, transferID, 0); err != nil {
		return err
	}

	src, total, err := r.open(ctx, t.SourceURI)
	if err != nil {
		return err
	}
	defer src.Close()

	destPath := filepath.Join(poolPath, objectName)
	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.ErrInternal, "create destination "+destPath, err)
	}

	written, err := io.Copy(dest, &progressReader{
		Reader: src,
		total:  total,
		report: func(pct int) { _ = r.store.UpdateTransferProgress(ctx, transferID, pct) },
	})
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return errs.Wrap(errs.ErrTransport, "copy "+t.SourceURI, err)
	}

	obj := &cpstore.StorageObject{
		ID:        uuid.NewString(),
		PoolID:    pool.ID,
		Name:      objectName,
		Type:      objectType,
		SizeBytes: written,
		Config:    map[string]string{"path": destPath},
	}
	if err := r.store.CreateStorageObject(ctx, obj); err != nil {
		os.Remove(destPath)
		return err
	}

	r.log.Info("transfer complete", "transfer_id", transferID, "object_id", obj.ID, "bytes", written)
	return r.store.CompleteTransfer(ctx, transferID, obj.ID)
}

// open resolves a source URI to a reader. http/https fetch over the wire;
// file:// and bare paths read from the control plane's local filesystem.
func (r *Runner) open(ctx context.Context, sourceURI string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(sourceURI)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURI, nil)
		if err != nil {
			return nil, 0, errs.Wrap(errs.ErrInvalidConfig, "build request for "+sourceURI, err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, 0, errs.Wrap(errs.ErrTransport, "fetch "+sourceURI, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, 0, errs.Wrap(errs.ErrTransport, fmt.Sprintf("fetch %s: status %d", sourceURI, resp.StatusCode), nil)
		}
		return resp.Body, resp.ContentLength, nil
	}

	path := sourceURI
	if u != nil && u.Scheme == "file" {
		path = u.Path
	}
	if !strings.HasPrefix(path, "/") {
		return nil, 0, errs.Wrap(errs.ErrInvalidConfig, "unsupported source uri "+sourceURI, nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errs.Wrap(errs.ErrNotFound, "open source "+path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errs.Wrap(errs.ErrInternal, "stat source "+path, err)
	}
	return f, st.Size(), nil
}

// progressReader reports whole-percent progress as bytes flow through,
// capped at 99 until the caller marks the transfer complete.
type progressReader struct {
	io.Reader
	total    int64
	read     int64
	lastPct  int
	report   func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.Reader.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 99 {
			pct = 99
		}
		if pct >= p.lastPct+5 {
			p.lastPct = pct
			p.report(pct)
		}
	}
	return n, err
}
