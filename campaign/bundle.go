package campaign

import (
	"archive/tar"
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/progen"
)

// BundleVersion tags reproduction bundles.
const BundleVersion = "bundle.v1"

const (
	bundleManifestPath = "manifest.json"
	bundleProgramPath  = "test.bin"
	bundleReportPath   = "report.json"
	maxBundleEntry     = 16 << 20
)

// BundleManifest lists the digest of every other entry in a bundle.
type BundleManifest struct {
	Version      string            `json:"version"`
	ProgramXXH64 string            `json:"program_xxh64"`
	Files        []string          `json:"files"`
	SHA256       map[string]string `json:"sha256"`
}

// Bundle is the decoded content of a reproduction bundle.
type Bundle struct {
	Manifest *BundleManifest
	Program  *lnprog.Program
	Report   *Report
}

type bundleEntry struct {
	path string
	data []byte
	mode int64
}

// WriteBundle packs the failing program and its report into a gzip tarball
// with fixed metadata, so equal inputs give equal archives.
func WriteBundle(path string, p *lnprog.Program, r *Report) (*BundleManifest, error) {
	reportJSON, err := MarshalReport(r)
	if err != nil {
		return nil, err
	}
	entries := []bundleEntry{
		{path: bundleProgramPath, data: lnprog.Encode(p), mode: 0o644},
		{path: bundleReportPath, data: reportJSON, mode: 0o644},
	}
	manifest := &BundleManifest{
		Version:      BundleVersion,
		ProgramXXH64: fmt.Sprintf("%016x", p.Fingerprint()),
		SHA256:       make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		manifest.Files = append(manifest.Files, e.path)
		manifest.SHA256[e.path] = sha256Hex(e.data)
	}
	sort.Strings(manifest.Files)

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, lnerr.Wrap(lnerr.InternalError, -1, "marshal bundle manifest", err)
	}
	manifestJSON = append(manifestJSON, '\n')
	entries = append(entries, bundleEntry{path: bundleManifestPath, data: manifestJSON, mode: 0o644})
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	var buf bytes.Buffer
	if err := writeTarGz(&buf, entries); err != nil {
		return nil, lnerr.Wrap(lnerr.InternalError, -1, "pack bundle", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return nil, lnerr.Wrap(lnerr.InternalIO, -1, "write bundle", err)
	}
	return manifest, nil
}

func writeTarGz(w io.Writer, entries []bundleEntry) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	fixed := time.Unix(0, 0).UTC()
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.path,
			Mode:    e.mode,
			Size:    int64(len(e.data)),
			ModTime: fixed,
			Uname:   "root",
			Gname:   "root",
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header for %s: %w", e.path, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return fmt.Errorf("write tar entry %s: %w", e.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	return gz.Close()
}

// ReadBundle unpacks a bundle and verifies every entry against the manifest.
//
//nolint:gosec // bundle path is explicit operator input.
func ReadBundle(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, lnerr.Wrap(lnerr.CodecError, -1, "open bundle", err)
	}
	defer func() { _ = f.Close() }()

	files, err := readTarGz(f)
	if err != nil {
		return nil, lnerr.Wrap(lnerr.CodecError, -1, "read bundle", err)
	}
	return decodeBundle(files)
}

func readTarGz(r io.Reader) (map[string][]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	files := map[string][]byte{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > maxBundleEntry {
			return nil, fmt.Errorf("entry %s is %d bytes", hdr.Name, hdr.Size)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxBundleEntry))
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", hdr.Name, err)
		}
		files[hdr.Name] = data
	}
}

func decodeBundle(files map[string][]byte) (*Bundle, error) {
	bad := func(msg string) error { return lnerr.New(lnerr.CodecError, -1, "bundle: "+msg) }
	raw, ok := files[bundleManifestPath]
	if !ok {
		return nil, bad(fmt.Sprintf("manifest entry %q not found", bundleManifestPath))
	}
	var manifest BundleManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, lnerr.Wrap(lnerr.CodecError, -1, "bundle: decode manifest", err)
	}
	if manifest.Version != BundleVersion {
		return nil, bad(fmt.Sprintf("unsupported version %q", manifest.Version))
	}
	for _, name := range []string{bundleProgramPath, bundleReportPath} {
		data, ok := files[name]
		if !ok {
			return nil, bad(fmt.Sprintf("entry %q not found", name))
		}
		want := manifest.SHA256[name]
		if want == "" {
			return nil, bad(fmt.Sprintf("manifest missing digest for %s", name))
		}
		if got := sha256Hex(data); got != want {
			return nil, bad(fmt.Sprintf("digest mismatch for %s: %s != %s", name, got, want))
		}
	}

	p, err := lnprog.Decode(files[bundleProgramPath])
	if err != nil {
		return nil, err
	}
	if got := fmt.Sprintf("%016x", p.Fingerprint()); got != manifest.ProgramXXH64 {
		return nil, bad(fmt.Sprintf("program fingerprint %s != %s", got, manifest.ProgramXXH64))
	}
	report, err := ParseReport(files[bundleReportPath])
	if err != nil {
		return nil, err
	}
	return &Bundle{Manifest: &manifest, Program: p, Report: report}, nil
}

// IsBundle reports whether path starts with the gzip magic number.
//
//nolint:gosec // replay path is explicit operator input.
func IsBundle(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, lnerr.Wrap(lnerr.CodecError, -1, "open replay file", err)
	}
	defer func() { _ = f.Close() }()
	magic, err := bufio.NewReader(f).Peek(2)
	if err != nil {
		return false, nil
	}
	return magic[0] == 0x1f && magic[1] == 0x8b, nil
}

// OpenReplay loads a persisted program or a reproduction bundle. The report
// is nil for a plain program file.
func OpenReplay(path string) (progen.Source, *Report, error) {
	bundle, err := IsBundle(path)
	if err != nil {
		return nil, nil, err
	}
	if !bundle {
		src, err := progen.LoadReplay(path)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	}
	b, err := ReadBundle(path)
	if err != nil {
		return nil, nil, err
	}
	return progen.NewReplay(b.Program), b.Report, nil
}
