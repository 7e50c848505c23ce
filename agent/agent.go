package agent

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os/exec"
	"syscall"

	"github.com/jhunt/go-log"
	"golang.org/x/crypto/ssh"
)

type Agent struct {
	Name    string
	Port    int
	Version string

	//StorageRoot is where the image cache and snapshots live.
	StorageRoot string

	Archive struct {
		URL     string
		Keyring string
	}

	IPMI struct {
		Path     string
		Username string
		Password string
	}

	Registration struct {
		URL        string
		Interval   int
		CACert     string
		SkipVerify bool
	}

	config *ssh.ServerConfig

	Listen net.Listener
}

func NewAgent() *Agent {
	return &Agent{}
}

func (agent *Agent) Run() {
	for {
		agent.ServeOne(agent.Listen, true)
	}
}

func (agent *Agent) ServeOne(l net.Listener, async bool) {
	c, err := l.Accept()
	if err != nil {
		log.Errorf("failed to accept: %s", err)
		return
	}

	conn, chans, reqs, err := ssh.NewServerConn(c, agent.config)
	if err != nil {
		log.Errorf("handshake failed: %s", err)
		return
	}

	if async {
		go agent.handleConn(conn, chans, reqs)
	} else {
		agent.handleConn(conn, chans, reqs)
	}
}

func (agent *Agent) handleConn(conn *ssh.ServerConn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request) {
	defer conn.Close()

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			log.Errorf("rejecting unknown channel type: %s", newChannel.ChannelType())
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			log.Errorf("failed to accept channel: %s", err)
			return
		}

		defer channel.Close()

		for req := range requests {
			if req.Type != "exec" {
				log.Errorf("rejecting non-exec channel request (type=%s)", req.Type)
				req.Reply(false, nil)
				continue
			}

			command, err := ParseCommandFromSSHRequest(req)
			if err != nil {
				log.Errorf("%s", err)
				req.Reply(false, nil)
				continue
			}

			req.Reply(true, nil)

			// drain output to the SSH channel stream
			output := make(chan string)
			done := make(chan int)
			go func(out io.Writer, in chan string, done chan int) {
				for {
					s, ok := <-in
					if !ok {
						break
					}
					fmt.Fprintf(out, "%s", s)
					log.Debugf("%s", s)
				}
				close(done)
			}(channel, output, done)

			err = agent.Execute(command, output)
			<-done

			var rc int
			if exitErr, ok := err.(*exec.ExitError); ok {
				sys := exitErr.ProcessState.Sys()
				// os.ProcessState.Sys() may not return syscall.WaitStatus on non-UNIX
				// machines; IPMI dispatch only works on UNIX anyway, but don't crash
				if ws, ok := sys.(syscall.WaitStatus); ok {
					if ws.Exited() {
						rc = ws.ExitStatus()
					} else {
						var signal syscall.Signal
						if ws.Signaled() {
							signal = ws.Signal()
						}
						if ws.Stopped() {
							signal = ws.StopSignal()
						}
						sigStr, ok := SIGSTRING[signal]
						if !ok {
							sigStr = "ABRT" // use ABRT as catch-all signal for any that don't translate
							log.Infof("command execution terminated due to %s, translating as ABRT for ssh transport", signal)
						} else {
							log.Infof("command execution terminated due to SIG%s", sigStr)
						}
						sigMsg := struct {
							Signal     string
							CoreDumped bool
							Error      string
							Lang       string
						}{
							Signal:     sigStr,
							CoreDumped: false,
							Error:      fmt.Sprintf("%s terminated due to SIG%s", command.Op, sigStr),
							Lang:       "en-US",
						}
						channel.SendRequest("exit-signal", false, ssh.Marshal(&sigMsg))
						channel.Close()
						continue
					}
				}
			} else if err != nil {
				log.Infof("%s failed: %s", command.Details(), err)
				rc = errorExitCode(err)
			}

			log.Infof("%s completed with rc=%d", command.Details(), rc)
			byteCode := make([]byte, 4)
			binary.BigEndian.PutUint32(byteCode, uint32(rc)) // SSH protocol is big-endian byte ordering
			channel.SendRequest("exit-status", false, byteCode)
			channel.Close()
		}
	}
}

// errorExitCode maps an in-process execution failure onto the exit
// code reported over the fabric.  Integrity failures get their own
// code, so the core knows not to retry them.
func errorExitCode(err error) int {
	if _, ok := err.(IntegrityError); ok {
		return IntegrityExitCode
	}
	return 1
}

// Based on what's handled in https://github.com/golang/crypto/blob/master/ssh/session.go#L21
var SIGSTRING = map[syscall.Signal]string{
	syscall.SIGABRT: "ABRT",
	syscall.SIGALRM: "ALRM",
	syscall.SIGFPE:  "FPE",
	syscall.SIGHUP:  "HUP",
	syscall.SIGILL:  "ILL",
	syscall.SIGINT:  "INT",
	syscall.SIGKILL: "KILL",
	syscall.SIGPIPE: "PIPE",
	syscall.SIGQUIT: "QUIT",
	syscall.SIGSEGV: "SEGV",
	syscall.SIGTERM: "TERM",
	syscall.SIGUSR1: "USR1",
	syscall.SIGUSR2: "USR2",
}
