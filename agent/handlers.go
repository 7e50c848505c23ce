package agent

import (
	"bufio"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/jhunt/go-log"

	"github.com/anvilproject/anvil/archive"
	"github.com/anvilproject/anvil/cache"
	"github.com/anvilproject/anvil/catalog"
)

// ManifestFile records, inside each snapshot, which images that
// snapshot holds.  The heartbeat report and the delete operation both
// read it; sync and delete write it.
const ManifestFile = "manifest.json"

// IntegrityExitCode is reported over the fabric when content failed
// signature or digest verification.  It must stay in step with what
// the region core expects; the core fails such runs without retrying.
const IntegrityExitCode = 3

// IntegrityError wraps a failure of content verification, so that the
// session handler can report IntegrityExitCode instead of a generic
// failure.
type IntegrityError struct {
	Err error
}

func (e IntegrityError) Error() string {
	return e.Err.Error()
}

// integrityFailure reports whether err means the archive's content
// failed verification, as opposed to merely being unreachable.
func integrityFailure(err error) bool {
	switch err.(type) {
	case archive.ChecksumMismatchError, archive.SignatureError:
		return true
	}
	return false
}

// Execute carries out one command from the core, streaming progress to
// out as "O:"- and "E:"-prefixed lines.  Execute closes out when the
// command finishes, whether or not it succeeded.
func (agent *Agent) Execute(c *Command, out chan string) error {
	log.Infof("executing %s", c.Details())

	switch c.Op {
	case "download":
		return agent.executeDownload(c, out)
	case "sync":
		return agent.executeSync(c, out)
	case "cleanup":
		return agent.executeCleanup(c, out)
	case "delete":
		return agent.executeDelete(c, out)
	case "power-on", "power-off", "power-cycle", "power-query":
		return agent.executePower(c, out)
	case "status":
		return agent.executeStatus(c, out)
	}

	close(out)
	return fmt.Errorf("unsupported operation: '%s'", c.Op)
}

func say(out chan string, msg string, args ...interface{}) {
	out <- fmt.Sprintf("O:%s\n", fmt.Sprintf(msg, args...))
}

func complain(out chan string, msg string, args ...interface{}) {
	out <- fmt.Sprintf("E:%s\n", fmt.Sprintf(msg, args...))
}

func drain(prefix string, out chan string, in io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	s := bufio.NewScanner(in)
	for s.Scan() {
		out <- fmt.Sprintf("%s:%s\n", prefix, s.Text())
	}
}

func (agent *Agent) executeDownload(c *Command, out chan string) error {
	defer close(out)

	p, err := c.DownloadParams()
	if err != nil {
		complain(out, "%s", err)
		return err
	}

	store, err := archive.New(archive.Config{
		URL:     p.Archive,
		Keyring: agent.Archive.Keyring,
	})
	if err != nil {
		complain(out, "unable to reach archive %s: %s", p.Archive, err)
		return err
	}

	name := p.Package
	if name == "" {
		name = p.Spec.Label
	}

	say(out, "fetching package %s for image %s from %s", name, p.Spec, p.Archive)
	data, filename, err := store.FetchWithFallback(name, "main", p.Spec.Arch, p.Release)
	if err != nil {
		complain(out, "unable to fetch %s: %s", name, err)
		if integrityFailure(err) {
			return IntegrityError{Err: err}
		}
		return err
	}
	if data == nil {
		complain(out, "package %s not found in %s", name, p.Release)
		return fmt.Errorf("package %s not found in %s", name, p.Release)
	}

	sum := cache.Checksum(data)
	if _, err := cache.WriteBlob(agent.StorageRoot, sum, data); err != nil {
		complain(out, "unable to cache %s: %s", filename, err)
		return err
	}

	say(out, "cached %s as %s (%d bytes)", filename, sum, len(data))
	return nil
}

func (agent *Agent) executeSync(c *Command, out chan string) error {
	defer close(out)

	p, err := c.SyncParams()
	if err != nil {
		complain(out, "%s", err)
		return err
	}

	target := catalog.Load(p.Catalog)
	say(out, "converging on a catalog of %d images", target.Len())

	store, err := archive.New(archive.Config{
		URL:     p.Archive,
		Keyring: agent.Archive.Keyring,
	})
	if err != nil {
		complain(out, "unable to reach archive %s: %s", p.Archive, err)
		return err
	}

	synced := catalog.NewIndex()
	failed := 0
	unverifiable := false
	for _, item := range target.Items() {
		sum, _ := item.Resource["sha256"].(string)

		if sum != "" && cache.HaveBlob(agent.StorageRoot, sum) {
			say(out, "image %s already cached (%s)", item.Spec, sum)
			synced.Set(item.Spec, item.Resource)
			continue
		}

		name, _ := item.Resource["package"].(string)
		if name == "" {
			name = item.Spec.Label
		}

		say(out, "fetching package %s for image %s", name, item.Spec)
		data, filename, err := store.FetchWithFallback(name, "main", item.Spec.Arch, p.Release)
		if err != nil {
			complain(out, "unable to fetch %s: %s", name, err)
			if integrityFailure(err) {
				unverifiable = true
			}
			failed++
			continue
		}
		if data == nil {
			complain(out, "package %s not found; skipping image %s", name, item.Spec)
			failed++
			continue
		}

		got := cache.Checksum(data)
		if sum != "" && got != sum {
			complain(out, "image %s: archive gave us checksum %s, catalog wants %s", item.Spec, got, sum)
			unverifiable = true
			failed++
			continue
		}

		if _, err := cache.WriteBlob(agent.StorageRoot, got, data); err != nil {
			complain(out, "unable to cache %s: %s", filename, err)
			failed++
			continue
		}

		say(out, "cached %s as %s (%d bytes)", filename, got, len(data))
		synced.Set(item.Spec, catalog.Resource{
			"package": name,
			"sha256":  got,
			"size":    len(data),
		})
	}

	if err := agent.commitSnapshot(synced, out); err != nil {
		return err
	}

	if failed > 0 {
		err := fmt.Errorf("%d of %d images failed to sync", failed, target.Len())
		if unverifiable {
			return IntegrityError{Err: err}
		}
		return err
	}
	return nil
}

func (agent *Agent) executeCleanup(c *Command, out chan string) error {
	defer close(out)

	old, err := cache.ListOldSnapshots(agent.StorageRoot)
	if err != nil {
		complain(out, "unable to list superseded snapshots: %s", err)
		return err
	}
	say(out, "removing %d superseded snapshot(s)", len(old))

	if err := cache.CleanupSnapshotsAndCache(agent.StorageRoot); err != nil {
		complain(out, "cleanup failed: %s", err)
		return err
	}

	say(out, "cleanup complete")
	return nil
}

func (agent *Agent) executeDelete(c *Command, out chan string) error {
	defer close(out)

	p, err := c.DeleteParams()
	if err != nil {
		complain(out, "%s", err)
		return err
	}

	have, err := agent.currentManifest()
	if err != nil {
		complain(out, "unable to read current snapshot manifest: %s", err)
		return err
	}

	if _, ok := have.Get(p.Spec); !ok {
		say(out, "image %s not in the current snapshot; nothing to do", p.Spec)
		return nil
	}

	keep := catalog.NewIndex()
	for _, item := range have.Items() {
		if item.Spec != p.Spec {
			keep.Set(item.Spec, item.Resource)
		}
	}

	say(out, "dropping image %s; keeping %d image(s)", p.Spec, keep.Len())
	return agent.commitSnapshot(keep, out)
}

func (agent *Agent) executePower(c *Command, out chan string) error {
	p, err := c.PowerParams()
	if err != nil {
		close(out)
		return err
	}

	var verb string
	switch c.Op {
	case "power-on":
		verb = "on"
	case "power-off":
		verb = "off"
	case "power-cycle":
		verb = "cycle"
	case "power-query":
		verb = "status"
	}

	cmd := exec.Command(agent.IPMI.Path,
		"-I", "lanplus",
		"-H", p.BMCAddress,
		"-U", agent.IPMI.Username,
		"-P", agent.IPMI.Password,
		"chassis", "power", verb)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		close(out)
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		close(out)
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go drain("O", out, stdout, &wg)
	go drain("E", out, stderr, &wg)

	if err := cmd.Start(); err != nil {
		close(out)
		return err
	}

	wg.Wait()
	close(out)

	return cmd.Wait()
}

func (agent *Agent) executeStatus(c *Command, out chan string) error {
	defer close(out)

	have, err := agent.currentManifest()
	if err != nil {
		complain(out, "unable to read current snapshot manifest: %s", err)
		return err
	}

	say(out, "%d image(s) in the current snapshot", have.Len())
	for _, item := range have.Items() {
		sum, _ := item.Resource["sha256"].(string)
		say(out, "  %s %s", item.Spec, sum)
	}
	return nil
}

// commitSnapshot materializes want as a new snapshot generation:
// hardlink every blob in, write the manifest, retarget `current`.
func (agent *Agent) commitSnapshot(want *catalog.Index, out chan string) error {
	snap, err := cache.NewSnapshot(agent.StorageRoot)
	if err != nil {
		complain(out, "unable to create a new snapshot: %s", err)
		return err
	}

	for _, item := range want.Items() {
		sum, _ := item.Resource["sha256"].(string)
		if sum == "" {
			continue
		}
		if err := snap.Link(sum); err != nil {
			complain(out, "unable to link image %s into the snapshot: %s", item.Spec, err)
			return err
		}
	}

	manifest, err := want.Dump()
	if err != nil {
		complain(out, "unable to serialize the snapshot manifest: %s", err)
		return err
	}
	if err := ioutil.WriteFile(filepath.Join(snap.Path(), ManifestFile), manifest, 0644); err != nil {
		complain(out, "unable to write the snapshot manifest: %s", err)
		return err
	}

	if err := snap.Commit(); err != nil {
		complain(out, "unable to commit the snapshot: %s", err)
		return err
	}

	say(out, "committed snapshot %s with %d image(s)", filepath.Base(snap.Path()), want.Len())
	return nil
}

// currentManifest reads the manifest of the snapshot `current` points
// at.  No snapshot yet means no images yet, not an error.
func (agent *Agent) currentManifest() (*catalog.Index, error) {
	b, err := ioutil.ReadFile(filepath.Join(agent.StorageRoot, cache.CurrentLink, ManifestFile))
	if os.IsNotExist(err) {
		return catalog.NewIndex(), nil
	}
	if err != nil {
		return nil, err
	}
	return catalog.Load(b), nil
}
