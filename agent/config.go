package agent

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io/ioutil"
	"net"
	"strconv"
	"strings"

	env "github.com/jhunt/go-envirotron"
	"github.com/jhunt/go-log"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Name               string   `yaml:"name"                 env:"ANVIL_AGENT_NAME"`
	AuthorizedKeysFile string   `yaml:"authorized_keys_file" env:"ANVIL_AGENT_AUTHORIZED_KEYS_FILE"`
	AuthorizedKey      string   `yaml:"authorized_key"       env:"ANVIL_AGENT_AUTHORIZED_KEY"`
	HostKeyFile        string   `yaml:"host_key_file"        env:"ANVIL_AGENT_HOST_KEY_FILE"`
	HostKey            string   `yaml:"host_key"             env:"ANVIL_AGENT_HOST_KEY"`
	MACs               []string `yaml:"macs"`
	ListenAddress      string   `yaml:"listen_address"       env:"ANVIL_AGENT_LISTEN_ADDRESS"`
	StorageRoot        string   `yaml:"storage_root"         env:"ANVIL_AGENT_STORAGE_ROOT"`

	Archive struct {
		URL     string `yaml:"url"     env:"ANVIL_AGENT_ARCHIVE_URL"`
		Keyring string `yaml:"keyring" env:"ANVIL_AGENT_ARCHIVE_KEYRING"`
	} `yaml:"archive"`

	IPMI struct {
		Path     string `yaml:"path"     env:"ANVIL_AGENT_IPMI_PATH"`
		Username string `yaml:"username" env:"ANVIL_AGENT_IPMI_USERNAME"`
		Password string `yaml:"password" env:"ANVIL_AGENT_IPMI_PASSWORD"`
	} `yaml:"ipmi"`

	Registration struct {
		URL         string `yaml:"url"           env:"ANVIL_AGENT_REGISTRATION_URL"`
		Interval    int    `yaml:"interval"      env:"ANVIL_AGENT_REGISTRATION_INTERVAL"`
		AnvilCACert string `yaml:"anvil_ca_cert" env:"ANVIL_AGENT_REGISTRATION_ANVIL_CA_CERT"`
		SkipVerify  bool   `yaml:"skip_verify"   env:"ANVIL_AGENT_REGISTRATION_SKIP_VERIFY"`
	} `yaml:"registration"`
}

func (agent *Agent) ReadConfig(path string) error {
	var err error
	var config Config

	if path != "" {
		b, err := ioutil.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(b, &config); err != nil {
			return err
		}
	}

	env.Override(&config)

	if config.Name == "" {
		return fmt.Errorf("no agent name specified")
	}
	if config.ListenAddress == "" {
		return fmt.Errorf("no listen address and/or port supplied")
	}
	if config.AuthorizedKeysFile == "" && config.AuthorizedKey == "" {
		return fmt.Errorf("no authorized keys supplied")
	}
	if config.StorageRoot == "" {
		return fmt.Errorf("no storage root supplied")
	}

	var authorizedKeys []ssh.PublicKey
	if config.AuthorizedKey != "" {
		authorizedKeys, err = LoadAuthorizedKeysFromBytes([]byte(config.AuthorizedKey))
	} else {
		authorizedKeys, err = LoadAuthorizedKeysFromFile(config.AuthorizedKeysFile)
	}
	if err != nil {
		log.Errorf("failed to load authorized keys: %s", err)
		return err
	}

	var hostKey ssh.Signer
	if config.HostKey != "" {
		hostKey, err = LoadPrivateKeyFromBytes([]byte(config.HostKey))
	} else if config.HostKeyFile != "" {
		hostKey, err = LoadPrivateKeyFromFile(config.HostKeyFile)
	} else {
		hostKey, err = GeneratePrivateKey()
	}
	if err != nil {
		log.Errorf("failed to load host key: %s", err)
		return err
	}

	agent.config, err = ConfigureSSHServer(hostKey, authorizedKeys, config.MACs)
	if err != nil {
		log.Errorf("failed to configure SSH server: %s", err)
		return err
	}

	agent.Name = config.Name
	l := strings.Split(config.ListenAddress, ":")
	if len(l) == 1 {
		config.ListenAddress = config.ListenAddress + ":5771"
		agent.Port = 5771

	} else if len(l) != 2 {
		log.Errorf("failed to configure anvil-agent: '%s' does not look like a valid address to bind", config.ListenAddress)
		return fmt.Errorf("invalid bind address '%s'", config.ListenAddress)

	} else {
		n, err := strconv.ParseInt(l[1], 10, 0)
		if err != nil {
			log.Errorf("failed to configure anvil-agent: '%s' does not look like a valid address to bind: %s", config.ListenAddress, err)
			return err
		}
		agent.Port = int(n)
	}

	agent.Listen, err = net.Listen("tcp4", config.ListenAddress)
	if err != nil {
		log.Errorf("failed to bind %s: %s", config.ListenAddress, err)
		return err
	}

	agent.StorageRoot = config.StorageRoot
	agent.Archive.URL = config.Archive.URL
	agent.Archive.Keyring = config.Archive.Keyring

	agent.IPMI.Path = config.IPMI.Path
	if agent.IPMI.Path == "" {
		agent.IPMI.Path = "ipmitool"
	}
	agent.IPMI.Username = config.IPMI.Username
	agent.IPMI.Password = config.IPMI.Password

	agent.Registration.URL = config.Registration.URL
	agent.Registration.Interval = config.Registration.Interval
	agent.Registration.SkipVerify = config.Registration.SkipVerify

	if config.Registration.AnvilCACert != "" {
		if !strings.HasPrefix(config.Registration.AnvilCACert, "---") {
			b, err := ioutil.ReadFile(config.Registration.AnvilCACert)
			if err != nil {
				log.Errorf("failed to configure anvil-agent: failed to read CA cert: %s", err)
				return err
			}
			config.Registration.AnvilCACert = string(b)
		}
		agent.Registration.CACert = config.Registration.AnvilCACert
	}

	return nil
}

func LoadAuthorizedKeysFromFile(path string) ([]ssh.PublicKey, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadAuthorizedKeysFromBytes(b)
}

func LoadAuthorizedKeysFromBytes(b []byte) ([]ssh.PublicKey, error) {
	var keys []ssh.PublicKey

	for {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(b)
		if err != nil {
			break
		}

		keys = append(keys, key)
		b = rest
	}

	return keys, nil
}

func GeneratePrivateKey() (ssh.Signer, error) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(k)
}

func LoadPrivateKeyFromFile(path string) (ssh.Signer, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return LoadPrivateKeyFromBytes(b)
}

func LoadPrivateKeyFromBytes(b []byte) (ssh.Signer, error) {
	return ssh.ParsePrivateKey(b)
}

func ConfigureSSHServer(key ssh.Signer, authorizedKeys []ssh.PublicKey, macs []string) (*ssh.ServerConfig, error) {
	certChecker := &ssh.CertChecker{
		IsUserAuthority: func(key ssh.PublicKey) bool {
			return false
		},

		UserKeyFallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			for _, k := range authorizedKeys {
				if bytes.Equal(k.Marshal(), key.Marshal()) {
					return nil, nil
				}
			}

			return nil, fmt.Errorf("unknown public key")
		},
	}

	if len(macs) == 0 {
		macs = []string{"hmac-sha2-256-etm@openssh.com", "hmac-sha2-256", "hmac-sha1"}
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return certChecker.Authenticate(conn, key)
		},
		Config: ssh.Config{MACs: macs},
	}

	config.AddHostKey(key)

	return config, nil
}

func ConfigureSSHClient(privateKeyPath string) (*ssh.ClientConfig, error) {
	raw, err := ioutil.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}, nil
}
