package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// dumpBaseURL is swapped in tests to point at a local fixture server.
var dumpBaseURL = "https://dumps.wikimedia.org"

// dumpSet locates the on-disk dump files for one wiki snapshot. linktarget
// is empty when the snapshot does not publish that table (legacy pagelinks
// schema).
type dumpSet struct {
	page       string
	pagelinks  string
	linktarget string
}

func dumpFileName(wiki, date, table string) string {
	return fmt.Sprintf("%s-%s-%s.sql.gz", wiki, date, table)
}

func dumpURL(wiki, date, table string) string {
	return fmt.Sprintf("%s/%s/%s/%s", dumpBaseURL, wiki, date, dumpFileName(wiki, date, table))
}

// resolveDumpFiles checks the local dump directory for the page, pagelinks
// and linktarget files, downloading missing ones when opts.Download is set.
// Files live under <dump-dir>/<wiki>/<dump-date>/.
func resolveDumpFiles(ctx context.Context, opts Options) (dumpSet, error) {
	client := &http.Client{}
	dir := filepath.Join(opts.DumpDir, opts.Wiki, opts.DumpDate)

	set := dumpSet{
		page:       filepath.Join(dir, dumpFileName(opts.Wiki, opts.DumpDate, "page")),
		pagelinks:  filepath.Join(dir, dumpFileName(opts.Wiki, opts.DumpDate, "pagelinks")),
		linktarget: filepath.Join(dir, dumpFileName(opts.Wiki, opts.DumpDate, "linktarget")),
	}

	if err := ensureDumpFile(ctx, client, dumpURL(opts.Wiki, opts.DumpDate, "page"), set.page, opts.Download); err != nil {
		return dumpSet{}, err
	}
	if err := ensureDumpFile(ctx, client, dumpURL(opts.Wiki, opts.DumpDate, "pagelinks"), set.pagelinks, opts.Download); err != nil {
		return dumpSet{}, err
	}

	// linktarget only exists for newer snapshots; when it cannot be
	// fetched the pagelinks file must carry the legacy schema.
	if opts.Download {
		if err := ensureDumpFile(ctx, client, dumpURL(opts.Wiki, opts.DumpDate, "linktarget"), set.linktarget, true); err != nil {
			if ctx.Err() != nil {
				return dumpSet{}, err
			}
			slog.Warn("Linktarget dump unavailable, assuming legacy pagelinks schema", "error", err)
			set.linktarget = ""
		}
	} else if _, err := os.Stat(set.linktarget); err != nil {
		set.linktarget = ""
	}

	return set, nil
}

func ensureDumpFile(ctx context.Context, client *http.Client, url, local string, download bool) error {
	if _, err := os.Stat(local); err == nil {
		return nil
	}
	if !download {
		return fmt.Errorf("missing dump file %s: fetch it from %s or pass --download", local, url)
	}
	slog.Info("Downloading dump file", "url", url, "dest", local)
	return downloadFile(ctx, client, url, local)
}

// downloadFile writes to a .part sibling and renames on success so an
// interrupted download never leaves a truncated dump behind.
func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return err
	}
	slog.Info("Download complete", "dest", dest, "bytes", n)
	return nil
}
