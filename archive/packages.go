package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"io/ioutil"
	"path"
	"strconv"
	"strings"

	"github.com/jhunt/go-log"
	"github.com/ulikunitz/xz"
)

// Package is one binary package stanza from an archive's package
// index.
type Package struct {
	Name     string
	Version  string
	Filename string
	SHA256   string
	Size     int64
}

// FetchPackage locates name in the signed package index for the given
// component / arch / release, downloads the artifact, and validates it
// against the digest the index declares.  The index itself is fetched
// as LZMA-compressed data and checked against the digest in the
// (signature-verified) Release file before any entry in it is
// trusted.
//
// A package that simply is not in the index is not an error; an
// optional driver package missing from a release is expected.  In
// that case FetchPackage returns (nil, "", nil).
func (s *Store) FetchPackage(name, component, arch, release string) ([]byte, string, error) {
	dist := fmt.Sprintf("%s/dists/%s", s.url, release)

	relData, err := s.Fetch(dist + "/Release")
	if err != nil {
		return nil, "", err
	}
	relSig, err := s.Fetch(dist + "/Release.gpg")
	if err != nil {
		return nil, "", err
	}
	if err := s.VerifySignature(relSig, relData); err != nil {
		if sigErr, ok := err.(SignatureError); ok {
			sigErr.Source = dist + "/Release"
			return nil, "", sigErr
		}
		return nil, "", err
	}

	sums := parseReleaseSums(relData)
	indexPath := fmt.Sprintf("%s/binary-%s/Packages.xz", component, arch)
	want, ok := sums[indexPath]
	if !ok {
		return nil, "", fmt.Errorf("%s/Release lists no digest for %s", dist, indexPath)
	}

	compressed, err := s.fetchChecked(dist+"/"+indexPath, want)
	if err != nil {
		return nil, "", err
	}

	zr, err := xz.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, "", fmt.Errorf("unable to decompress %s: %s", indexPath, err)
	}
	index, err := ioutil.ReadAll(zr)
	if err != nil {
		return nil, "", fmt.Errorf("unable to decompress %s: %s", indexPath, err)
	}

	pkg, found := findPackage(index, name)
	if !found {
		log.Debugf("package %s not found in %s/%s (%s); nothing to fetch", name, release, component, arch)
		return nil, "", nil
	}

	data, err := s.fetchChecked(s.url+"/"+pkg.Filename, pkg.SHA256)
	if err != nil {
		return nil, "", err
	}

	return data, path.Base(pkg.Filename), nil
}

// FetchWithFallback looks for name in the release's -updates pocket
// first, falling back to the release pocket, and returns the first
// artifact found.
func (s *Store) FetchWithFallback(name, component, arch, release string) ([]byte, string, error) {
	var lastErr error
	for _, pocket := range []string{release + "-updates", release} {
		data, filename, err := s.FetchPackage(name, component, arch, pocket)
		if err != nil {
			log.Warnf("unable to look up package %s in %s: %s", name, pocket, err)
			lastErr = err
			continue
		}
		if data != nil {
			return data, filename, nil
		}
	}
	return nil, "", lastErr
}

// parseReleaseSums extracts the SHA256 file listing from a Release
// file: every `<sha256> <size> <path>` line under the `SHA256:`
// heading.
func parseReleaseSums(data []byte) map[string]string {
	sums := make(map[string]string)

	in := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, " ") {
			in = strings.HasPrefix(line, "SHA256:")
			continue
		}
		if !in {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 3 {
			sums[fields[2]] = fields[0]
		}
	}
	return sums
}

// findPackage scans a decompressed package index for the stanza
// describing name.
func findPackage(index []byte, name string) (Package, bool) {
	var pkg Package

	flush := func() (Package, bool) {
		if pkg.Name == name && pkg.Filename != "" && pkg.SHA256 != "" {
			return pkg, true
		}
		return Package{}, false
	}

	scanner := bufio.NewScanner(bytes.NewReader(index))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if p, ok := flush(); ok {
				return p, true
			}
			pkg = Package{}
			continue
		}

		switch {
		case strings.HasPrefix(line, "Package: "):
			pkg.Name = strings.TrimPrefix(line, "Package: ")
		case strings.HasPrefix(line, "Version: "):
			pkg.Version = strings.TrimPrefix(line, "Version: ")
		case strings.HasPrefix(line, "Filename: "):
			pkg.Filename = strings.TrimPrefix(line, "Filename: ")
		case strings.HasPrefix(line, "SHA256: "):
			pkg.SHA256 = strings.TrimPrefix(line, "SHA256: ")
		case strings.HasPrefix(line, "Size: "):
			pkg.Size, _ = strconv.ParseInt(strings.TrimPrefix(line, "Size: "), 10, 64)
		}
	}

	return flush()
}
