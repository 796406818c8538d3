package common

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/aptly-dev/aptly/utils"
	"github.com/cavaliergopher/grab/v3"
)

// Result is anything a download task group can produce: a path where the
// finished artifact landed.
type Result interface {
	Destination() string
}

// DownloadRequest describes a single file to fetch into the mirror tree.
type DownloadRequest struct {
	URL         string             // upstream URL
	Destination string             // absolute final path; content written here is always decoded
	Expected    utils.ChecksumInfo // digest recorded over the wire (compressed) bytes; zero value means "unknown, trust on first use"
	Optional    bool               // a missing remote file is not an error
	Decompress  CompressionFormat  // CompressionNone copies the response body through unchanged
}

// DownloadResult is the outcome of a DownloadRequest.
type DownloadResult struct {
	*DownloadRequest
	Size    int64 // decoded bytes written
	Skipped bool  // the file already matched Expected; nothing was fetched
	Missing bool  // Optional was set and the remote answered 404
}

// Destination implements Result.
func (r *DownloadResult) Destination() string {
	return r.DownloadRequest.Destination
}

// downloadWaiter lets concurrent requests for the same destination share a
// single in-flight fetch instead of racing to write the same file twice.
type downloadWaiter struct {
	done   chan struct{}
	result *DownloadResult
	err    error
	url    string
	digest string
}

// Downloader is the download pool of spec.md §2 item 8: a bounded worker
// pool performing checksum-verified, staged, atomically-promoted fetches.
type Downloader struct {
	pool   pond.ResultPool[Result]
	client *grab.Client
	http   *http.Client
	decomp *Decompressor
	force  bool

	inflight sync.Map // destination path -> *downloadWaiter
}

// NewDownloader builds a Downloader bounded to maxParallel concurrent
// transfers. force, when true, re-fetches every file regardless of whether
// it already matches its recorded checksum.
func NewDownloader(ctx context.Context, httpClient *http.Client, maxParallel int, force bool) *Downloader {
	pool := pond.NewResultPool[Result](maxParallel, pond.WithContext(ctx), pond.WithoutPanicRecovery())
	return &Downloader{
		pool:   pool,
		client: &grab.Client{HTTPClient: httpClient},
		http:   httpClient,
		decomp: NewDecompressor(),
		force:  force,
	}
}

// Shutdown stops accepting new work and waits for in-flight transfers to
// finish or be cancelled.
func (d *Downloader) Shutdown() {
	d.pool.StopAndWait()
}

// Download fetches one or more files in parallel, returning a task group
// the caller waits on. Concurrent requests for the same destination are
// deduplicated: only one transfer happens and every caller observes its
// result.
func (d *Downloader) Download(ctx context.Context, requests ...*DownloadRequest) pond.ResultTaskGroup[Result] {
	group := d.pool.NewGroupContext(ctx)
	for _, req := range requests {
		group.SubmitErr(func() (Result, error) {
			return d.downloadWithDedup(ctx, req)
		})
	}
	return group
}

// downloadWithDedup ensures only one transfer happens per destination path
// and that concurrent requests for it agree on the expected digest.
func (d *Downloader) downloadWithDedup(ctx context.Context, req *DownloadRequest) (*DownloadResult, error) {
	waiter := &downloadWaiter{done: make(chan struct{}), url: req.URL}
	if _, digest, ok := StrongestAvailable(req.Expected); ok {
		waiter.digest = digest
	}

	actual, loaded := d.inflight.LoadOrStore(req.Destination, waiter)
	if loaded {
		existing := actual.(*downloadWaiter)
		if waiter.digest != "" && existing.digest != "" && waiter.digest != existing.digest {
			return nil, fmt.Errorf("common: conflicting digest for %s: in-flight fetch expects %s, new request expects %s",
				req.Destination, existing.digest, waiter.digest)
		}
		<-existing.done
		return existing.result, existing.err
	}

	defer d.inflight.Delete(req.Destination)

	result, err := d.download(ctx, req)
	waiter.result = result
	waiter.err = err
	close(waiter.done)
	return result, err
}

// download performs the fetch-verify-stage-promote cycle for a single
// request, skipping the network round trip entirely when the destination
// already matches the recorded checksum and force is not set.
func (d *Downloader) download(ctx context.Context, req *DownloadRequest) (*DownloadResult, error) {
	if !d.force && d.alreadyValid(req) {
		return &DownloadResult{DownloadRequest: req, Skipped: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0755); err != nil {
		return nil, err
	}

	if req.Decompress == CompressionNone {
		return d.downloadPlain(ctx, req)
	}
	return d.downloadAndDecode(ctx, req)
}

// downloadPlain fetches a file whose on-disk bytes are identical to the
// wire bytes; grab hashes exactly what it writes to the staging path, so
// its built-in checksum verification applies directly.
func (d *Downloader) downloadPlain(ctx context.Context, req *DownloadRequest) (*DownloadResult, error) {
	stagingPath := req.Destination + ".part"
	grabReq, err := grab.NewRequest(stagingPath, req.URL)
	if err != nil {
		return nil, err
	}
	grabReq = grabReq.WithContext(ctx)

	if algo, digest, ok := StrongestAvailable(req.Expected); ok {
		h, herr := HashFor(algo)
		if herr != nil {
			return nil, herr
		}
		expectedSum, derr := hex.DecodeString(digest)
		if derr != nil {
			return nil, fmt.Errorf("%s: invalid recorded digest: %w", filepath.Base(req.Destination), derr)
		}
		grabReq.SetChecksum(h, expectedSum, true)
	}

	resp := d.client.Do(grabReq)
	<-resp.Done

	if err := resp.Err(); err != nil {
		_ = os.Remove(stagingPath)
		if req.Optional && responseStatus(resp) == http.StatusNotFound {
			return &DownloadResult{DownloadRequest: req, Missing: true}, nil
		}
		return nil, classifyDownloadErr(req.Destination, err)
	}

	if err := os.Rename(stagingPath, req.Destination); err != nil {
		return nil, err
	}

	slog.Debug("downloaded", "file", filepath.Base(req.Destination), "bytes", resp.Size())
	return &DownloadResult{DownloadRequest: req, Size: resp.Size()}, nil
}

// downloadAndDecode streams the response body through a digest sink
// keyed on the raw wire bytes while simultaneously decoding it to the
// staging path — the contract spec.md §4.1 describes for metadata files,
// whose Release-recorded digest covers the compressed representation even
// though the mirror only ever keeps the decoded content on disk.
func (d *Downloader) downloadAndDecode(ctx context.Context, req *DownloadRequest) (*DownloadResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(req.Destination), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound && req.Optional {
		return &DownloadResult{DownloadRequest: req, Missing: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", filepath.Base(req.Destination), resp.Status)
	}

	algo, expectedDigest, hasDigest := StrongestAvailable(req.Expected)
	var digester *Digester
	var wireReader io.Reader = resp.Body
	if hasDigest {
		digester = NewDigester(algo)
		wireReader = io.TeeReader(resp.Body, digester)
	}

	decoded, err := d.decomp.Reader(req.Decompress, wireReader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(req.Destination), err)
	}

	stagingPath := req.Destination + ".part"
	out, err := os.Create(stagingPath)
	if err != nil {
		return nil, err
	}

	size, copyErr := io.Copy(out, decoded)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(stagingPath)
		return nil, fmt.Errorf("%s: %w", filepath.Base(req.Destination), copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(stagingPath)
		return nil, closeErr
	}

	if hasDigest {
		if _, err := io.Copy(io.Discard, wireReader); err != nil {
			_ = os.Remove(stagingPath)
			return nil, fmt.Errorf("%s: %w", filepath.Base(req.Destination), err)
		}
		if digester.Size() != req.Expected.Size {
			_ = os.Remove(stagingPath)
			return nil, fmt.Errorf("%s: %w (expected %d bytes on the wire, got %d)",
				filepath.Base(req.Destination), ErrSizeMismatch, req.Expected.Size, digester.Size())
		}
		if !EqualFold(digester.Sum(), expectedDigest) {
			_ = os.Remove(stagingPath)
			return nil, fmt.Errorf("%s: %w", filepath.Base(req.Destination), ErrChecksumMismatch)
		}
		if err := writeDigestSidecar(req.Destination, algo, expectedDigest); err != nil {
			return nil, err
		}
	}

	if err := os.Rename(stagingPath, req.Destination); err != nil {
		return nil, err
	}

	slog.Debug("downloaded", "file", filepath.Base(req.Destination), "decoded_bytes", size)
	return &DownloadResult{DownloadRequest: req, Size: size}, nil
}

// alreadyValid reports whether the destination is already correct and the
// fetch can be skipped. For a plain (non-decoding) download the final
// bytes on disk ARE the wire bytes, so a direct rehash settles it. For a
// decoded index file the mirror only keeps the decompressed content,
// which can never reproduce the compressed wire digest by rehashing — so
// a sidecar recorded alongside the decoded file at the last successful
// fetch is consulted instead of rehashing.
func (d *Downloader) alreadyValid(req *DownloadRequest) bool {
	algo, digest, ok := StrongestAvailable(req.Expected)
	if !ok {
		return false
	}
	if _, err := os.Stat(req.Destination); err != nil {
		return false
	}
	if req.Decompress == CompressionNone {
		info, err := os.Stat(req.Destination)
		if err != nil || (req.Expected.Size != 0 && info.Size() != req.Expected.Size) {
			return false
		}
		actual, err := hashFile(req.Destination, algo)
		if err != nil {
			return false
		}
		return EqualFold(actual, digest)
	}
	return sidecarMatches(req.Destination, algo, digest)
}

func hashFile(path string, algo Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	d := NewDigester(algo)
	if _, err := io.Copy(d, f); err != nil {
		return "", err
	}
	return d.Sum(), nil
}

func digestSidecarPath(destination string) string {
	return destination + ".digest"
}

func writeDigestSidecar(destination string, algo Algorithm, digest string) error {
	return os.WriteFile(digestSidecarPath(destination), []byte(string(algo)+":"+digest), 0644)
}

func sidecarMatches(destination string, algo Algorithm, digest string) bool {
	data, err := os.ReadFile(digestSidecarPath(destination))
	if err != nil {
		return false
	}
	return string(data) == string(algo)+":"+digest
}

// classifyDownloadErr maps a grab checksum-mismatch error onto the
// project's own sentinel so callers can errors.Is against it regardless
// of which code path produced the failure.
func classifyDownloadErr(destination string, err error) error {
	if err == grab.ErrBadChecksum {
		return fmt.Errorf("%s: %w", filepath.Base(destination), ErrChecksumMismatch)
	}
	return fmt.Errorf("%s: %w", filepath.Base(destination), err)
}

// responseStatus extracts the HTTP status code from a grab response,
// returning 0 if the request never reached the server (connection error).
func responseStatus(resp *grab.Response) int {
	if resp == nil || resp.HTTPResponse == nil {
		return 0
	}
	return resp.HTTPResponse.StatusCode
}
