package archive

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	"github.com/jhunt/go-log"
	"golang.org/x/crypto/openpgp"
)

// Config carries everything a Store needs up front; there are no
// process-wide defaults to fall back on.
type Config struct {
	// URL is the base of the package archive,
	// e.g. http://archive.ubuntu.com/ubuntu
	URL string

	// Keyring is the path of the keyring (armored or binary) holding
	// the public keys the archive's Release files must be signed by.
	Keyring string

	// Client overrides the HTTP client used for all fetches.  The
	// default client honors http_proxy / https_proxy / no_proxy.
	Client *http.Client

	// Timeout applies per network call, not per operation.
	Timeout time.Duration
}

// Store fetches, verifies, and checksums artifacts from a remote
// package archive.  Every artifact a Store hands back has had its
// SHA-256 digest validated against a signed source.
type Store struct {
	url     string
	keyring openpgp.EntityList
	client  *http.Client
}

func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no archive URL configured")
	}

	keyring, err := readKeyring(cfg.Keyring)
	if err != nil {
		return nil, fmt.Errorf("unable to read archive keyring %s: %s", cfg.Keyring, err)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
	}

	return &Store{
		url:     cfg.URL,
		keyring: keyring,
		client:  client,
	}, nil
}

func readKeyring(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if keyring, err := openpgp.ReadArmoredKeyRing(f); err == nil {
		return keyring, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return openpgp.ReadKeyRing(f)
}

// Fetch retrieves the contents of url.  Transport failures are logged
// and handed back to the caller; there is no silent empty result.
func (s *Store) Fetch(url string) ([]byte, error) {
	res, err := s.client.Get(url)
	if err != nil {
		log.Errorf("unable to retrieve %s: %s", url, err)
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		err = fmt.Errorf("unable to retrieve %s: %s", url, res.Status)
		log.Errorf("%s", err)
		return nil, err
	}

	return ioutil.ReadAll(res.Body)
}

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// VerifySignature validates a detached signature over data against
// the trusted keyring.  Failure means the content cannot be trusted;
// it is fatal to whatever operation needed the data.
func (s *Store) VerifySignature(signature, data []byte) error {
	_, err := openpgp.CheckArmoredDetachedSignature(
		s.keyring, bytes.NewReader(data), bytes.NewReader(signature))
	if err == nil {
		return nil
	}

	_, err = openpgp.CheckDetachedSignature(
		s.keyring, bytes.NewReader(data), bytes.NewReader(signature))
	if err != nil {
		return SignatureError{Err: err}
	}
	return nil
}

// SignatureError means bytes failed detached-signature verification
// against the trusted keyring.  Like a checksum mismatch, it is
// security-relevant; callers must never retry past it.
type SignatureError struct {
	Source string
	Err    error
}

func (e SignatureError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: signature verification failed: %s", e.Source, e.Err)
	}
	return fmt.Sprintf("signature verification failed: %s", e.Err)
}

// ChecksumMismatchError means downloaded bytes did not match the
// digest their signed index declared, even after a re-fetch.  It is
// security-relevant and must not be retried blindly.
type ChecksumMismatchError struct {
	URL  string
	Want string
	Got  string
}

func (e ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: index declares sha256 %s, downloaded bytes have %s", e.URL, e.Want, e.Got)
}

// fetchChecked retrieves url and validates the result against the
// digest a signed index declared for it.  A first mismatch is treated
// as a possibly-stale intermediate mirror and fetched once more; a
// second mismatch is terminal.
func (s *Store) fetchChecked(url, sha256sum string) ([]byte, error) {
	var got string
	for attempt := 0; attempt < 2; attempt++ {
		data, err := s.Fetch(url)
		if err != nil {
			return nil, err
		}

		got = Checksum(data)
		if got == sha256sum {
			return data, nil
		}
		log.Warnf("%s: expected sha256 %s, got %s (mirror may be mid-update); re-fetching", url, sha256sum, got)
	}

	return nil, ChecksumMismatchError{URL: url, Want: sha256sum, Got: got}
}
