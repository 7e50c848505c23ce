package fabric

import (
	"bufio"
	"encoding/json"

	"github.com/jhunt/go-log"
	"golang.org/x/crypto/ssh"

	"github.com/anvilproject/anvil/core/scheduler"
	"github.com/anvilproject/anvil/db"
)

// SSH is the production fabric: it dials the rack agent's SSH
// endpoint and runs the command payload as the session exec string.
// The agent multiplexes its output back over the session's standard
// output, prefixing each line with "O:" (stdout) or "E:" (stderr).
func SSH(ip string, config *ssh.ClientConfig) SSHFabric {
	return SSHFabric{
		ip:  ip,
		ssh: config,
	}
}

type SSHFabric struct {
	ip  string
	ssh *ssh.ClientConfig
}

func (f SSHFabric) Download(run *db.Run) scheduler.Chore {
	return f.Execute("image download", run)
}

func (f SSHFabric) Sync(run *db.Run) scheduler.Chore {
	return f.Execute("image sync", run)
}

func (f SSHFabric) Cleanup(run *db.Run) scheduler.Chore {
	return f.Execute("cache cleanup", run)
}

func (f SSHFabric) Delete(run *db.Run) scheduler.Chore {
	return f.Execute("image delete", run)
}

func (f SSHFabric) Power(run *db.Run) scheduler.Chore {
	return f.Execute("power action", run)
}

func (f SSHFabric) Status(run *db.Run) scheduler.Chore {
	return f.Execute("agent status", run)
}

func (f SSHFabric) Execute(op string, run *db.Run) scheduler.Chore {
	command := Command{
		Op:      run.Op,
		RunUUID: run.UUID,
		Params:  json.RawMessage(run.Params),
	}

	return scheduler.NewChore(
		run.UUID,
		func(chore scheduler.Chore) {
			log.Debugf("starting up ssh fabric execution...")
			if f.ip == "" {
				chore.Errorf("ERR> unable to determine rack agent to connect to")
				chore.UnixExit(2)
				return
			}

			log.Debugf("marshaling command into JSON for transport across the ssh fabric...")
			b, err := json.Marshal(command)
			if err != nil {
				chore.Errorf("ERR> unable to marshal %s payload: %s", op, err)
				chore.UnixExit(2)
				return
			}
			payload := string(b)

			if chore.Canceled() {
				chore.Errorf("run canceled before execution started")
				chore.UnixExit(1)
				return
			}

			chore.Errorf("connecting to %s (tcp/ipv4)", f.ip)
			conn, err := ssh.Dial("tcp4", f.ip, f.ssh)
			if err != nil {
				chore.Errorf("ERR> unable to connect to %s: %s", f.ip, err)
				chore.UnixExit(2)
				return
			}
			defer conn.Close()

			chore.Errorf("connected to %s...", f.ip)
			sess, err := conn.NewSession()
			if err != nil {
				chore.Errorf("ERR> unable to create a new execution session against %s: %s", f.ip, err)
				chore.UnixExit(2)
				return
			}
			defer sess.Close()

			/* set up an output sink on ssh output pipe */
			pipe, err := sess.StdoutPipe()
			if err != nil {
				chore.Errorf("ERR> unable to redirect standard output from remote execution session: %s", err)
				chore.UnixExit(2)
				return
			}

			/* we do this in a goroutine so that we can
			   exec the payload in the main thread. */
			wait := make(chan bool)
			go func() {
				b := bufio.NewScanner(pipe)
				for b.Scan() {
					s := b.Text()
					if len(s) < 2 {
						continue
					}
					switch s[:2] {
					case "O:":
						chore.Infof("%s", s[2:])
					case "E:":
						chore.Errorf("%s", s[2:])
					}
				}

				wait <- true
			}()

			if chore.Canceled() {
				chore.Errorf("run canceled before execution started")
				chore.UnixExit(1)
				return
			}

			/* execute the payload remotely */
			chore.Errorf("executing %s on remote agent.", op)
			err = sess.Run(payload)
			<-wait
			if err != nil {
				chore.Errorf("ERR> remote execution failed: %s", err)
				if exitErr, ok := err.(*ssh.ExitError); ok {
					/* preserve the agent's exit code; the core
					   treats IntegrityExit specially */
					chore.UnixExit(exitErr.ExitStatus())
					return
				}
				chore.UnixExit(1)
				return
			}

			chore.UnixExit(0)
		})
}
