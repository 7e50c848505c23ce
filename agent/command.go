package agent

import (
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/anvilproject/anvil/catalog"
)

// Command is the payload the core ships across the control fabric.
// Params is interpreted per operation; see the typed accessors below.
type Command struct {
	Op      string          `json:"operation"`
	RunUUID string          `json:"run_uuid,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type DownloadParams struct {
	Spec    catalog.ImageSpec `json:"spec"`
	Package string            `json:"package,omitempty"`
	Archive string            `json:"archive"`
	Release string            `json:"release"`
}

type SyncParams struct {
	Catalog json.RawMessage `json:"catalog"`
	Archive string          `json:"archive"`
	Release string          `json:"release"`
}

type DeleteParams struct {
	Spec catalog.ImageSpec `json:"spec"`
}

type PowerParams struct {
	SystemID   string `json:"system_id"`
	Action     string `json:"action"`
	BMCAddress string `json:"bmc_address"`
}

func ParseCommand(b []byte) (*Command, error) {
	cmd := &Command{}
	if err := json.Unmarshal(b, &cmd); err != nil {
		return nil, fmt.Errorf("malformed agent command: %s", err)
	}

	switch cmd.Op {
	case "":
		return nil, fmt.Errorf("missing required 'operation' value in payload")

	case "download":
		p, err := cmd.DownloadParams()
		if err != nil {
			return nil, err
		}
		if p.Spec.OS == "" || p.Spec.Arch == "" || p.Spec.Release == "" {
			return nil, fmt.Errorf("missing required image spec fields in 'params' payload")
		}
		if p.Archive == "" {
			return nil, fmt.Errorf("missing required 'archive' value in payload")
		}
		if p.Release == "" {
			return nil, fmt.Errorf("missing required 'release' value in payload")
		}

	case "sync":
		p, err := cmd.SyncParams()
		if err != nil {
			return nil, err
		}
		if len(p.Catalog) == 0 {
			return nil, fmt.Errorf("missing required 'catalog' value in payload")
		}
		if p.Archive == "" {
			return nil, fmt.Errorf("missing required 'archive' value in payload")
		}

	case "delete":
		p, err := cmd.DeleteParams()
		if err != nil {
			return nil, err
		}
		if p.Spec.OS == "" || p.Spec.Arch == "" || p.Spec.Release == "" {
			return nil, fmt.Errorf("missing required image spec fields in 'params' payload")
		}

	case "power-on", "power-off", "power-cycle", "power-query":
		p, err := cmd.PowerParams()
		if err != nil {
			return nil, err
		}
		if p.SystemID == "" {
			return nil, fmt.Errorf("missing required 'system_id' value in payload")
		}
		if p.BMCAddress == "" {
			return nil, fmt.Errorf("missing required 'bmc_address' value in payload")
		}

	case "cleanup", "status":
		/* nothing to validate */

	default:
		return nil, fmt.Errorf("unsupported operation: '%s'", cmd.Op)
	}

	return cmd, nil
}

func ParseCommandFromSSHRequest(r *ssh.Request) (*Command, error) {
	var raw struct{ Value []byte }

	if err := ssh.Unmarshal(r.Payload, &raw); err != nil {
		return nil, err
	}

	return ParseCommand(raw.Value)
}

func (c *Command) DownloadParams() (DownloadParams, error) {
	var p DownloadParams
	if err := json.Unmarshal(c.Params, &p); err != nil {
		return p, fmt.Errorf("malformed 'params' payload for download operation: %s", err)
	}
	return p, nil
}

func (c *Command) SyncParams() (SyncParams, error) {
	var p SyncParams
	if err := json.Unmarshal(c.Params, &p); err != nil {
		return p, fmt.Errorf("malformed 'params' payload for sync operation: %s", err)
	}
	return p, nil
}

func (c *Command) DeleteParams() (DeleteParams, error) {
	var p DeleteParams
	if err := json.Unmarshal(c.Params, &p); err != nil {
		return p, fmt.Errorf("malformed 'params' payload for delete operation: %s", err)
	}
	return p, nil
}

func (c *Command) PowerParams() (PowerParams, error) {
	var p PowerParams
	if err := json.Unmarshal(c.Params, &p); err != nil {
		return p, fmt.Errorf("malformed 'params' payload for power operation: %s", err)
	}
	return p, nil
}

func (c *Command) Details() string {
	switch c.Op {
	case "download":
		if p, err := c.DownloadParams(); err == nil {
			return fmt.Sprintf("download of image %s", p.Spec)
		}

	case "sync":
		return "sync of local image cache against the catalog of record"

	case "cleanup":
		return "cleanup of superseded snapshots and unreferenced blobs"

	case "delete":
		if p, err := c.DeleteParams(); err == nil {
			return fmt.Sprintf("removal of image %s from the current snapshot", p.Spec)
		}

	case "power-on", "power-off", "power-cycle", "power-query":
		if p, err := c.PowerParams(); err == nil {
			return fmt.Sprintf("%s of machine %s (via %s)", c.Op, p.SystemID, p.BMCAddress)
		}
	}

	return fmt.Sprintf("%s op", c.Op)
}
