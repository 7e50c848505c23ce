package core

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/jhunt/go-log"
	"golang.org/x/crypto/ssh"

	"github.com/anvilproject/anvil/core/bus"
	"github.com/anvilproject/anvil/core/fabric"
	"github.com/anvilproject/anvil/core/metrics"
	"github.com/anvilproject/anvil/core/scheduler"
	"github.com/anvilproject/anvil/db"
	"github.com/anvilproject/anvil/topology"
)

var Version = "(development)"

type Core struct {
	Config Config

	db        *db.DB
	bus       *bus.Bus
	scheduler *scheduler.Scheduler
	metrics   *metrics.Exporter
	router    *topology.Router

	fabricSSH *ssh.ClientConfig

	chores map[string]chan bool
	lock   sync.Mutex

	bailout bool
}

func NewCore(file string) (*Core, error) {
	config, err := ReadConfig(file)
	if err != nil {
		return nil, err
	}

	c := &Core{
		Config: config,
		chores: make(map[string]chan bool),
	}

	if config.Fabric.KeyFile != "" {
		raw, err := ioutil.ReadFile(config.Fabric.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read fabric key file %s: %s", config.Fabric.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fabric key file %s: %s", config.Fabric.KeyFile, err)
		}
		c.fabricSSH = &ssh.ClientConfig{
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		}
	}

	return c, nil
}

func (c *Core) Terminate(err error) {
	log.Alertf("ANVIL Core terminating: %s", err)
	os.Exit(2)
}

func (c *Core) MaybeTerminate(err error) {
	if err != nil {
		c.Terminate(err)
	}
}

// FabricFor resolves a run's queue to a rack agent address, and hands
// back a fabric that can reach it.  A `vlan:` queue belongs to
// whichever VLAN-attached rack is alive right now; an `agent:` queue
// is pinned to one rack.
func (c *Core) FabricFor(run *db.Run) (fabric.Fabric, error) {
	address, err := c.resolveQueue(run.Queue)
	if err != nil {
		return nil, err
	}

	if c.fabricSSH == nil {
		return nil, fmt.Errorf("no fabric private key configured; cannot reach rack agents")
	}

	return fabric.SSH(address, c.fabricSSH), nil
}

func (c *Core) resolveQueue(queue string) (string, error) {
	switch {
	case strings.HasPrefix(queue, "agent:"):
		rack, err := c.db.GetRack(strings.TrimPrefix(queue, "agent:"))
		if err != nil {
			return "", err
		}
		if rack == nil {
			return "", fmt.Errorf("queue %s names a rack that is no longer registered", queue)
		}
		return rack.Address, nil

	case strings.HasPrefix(queue, "vlan:"):
		vlan, err := strconv.Atoi(strings.TrimPrefix(queue, "vlan:"))
		if err != nil {
			return "", fmt.Errorf("malformed queue name '%s': %s", queue, err)
		}

		ids, err := c.db.ConnectedRacks(vlan)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			return "", fmt.Errorf("no racks are attached to VLAN %d", vlan)
		}

		/* prefer a live rack; fall back to the first attached one
		   and let the connection failure drive the retry cycle */
		var pick *db.Rack
		for _, id := range ids {
			rack, err := c.db.GetRack(id)
			if err != nil || rack == nil {
				continue
			}
			if pick == nil {
				pick = rack
			}
			if rack.Live() {
				pick = rack
				break
			}
		}
		if pick == nil {
			return "", fmt.Errorf("no usable racks are attached to VLAN %d", vlan)
		}
		return pick.Address, nil
	}

	return "", fmt.Errorf("unrecognized queue name '%s'", queue)
}
