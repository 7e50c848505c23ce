package core

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Debug bool `yaml:"debug"`

	Database string `yaml:"database"`

	Scheduler struct {
		FastLoop int `yaml:"fast_loop"`
		SlowLoop int `yaml:"slow_loop"`
		Threads  int `yaml:"threads"`
	} `yaml:"scheduler"`

	API struct {
		Bind  string `yaml:"bind"`
		PProf string `yaml:"pprof"`

		Websocket struct {
			WriteTimeout int `yaml:"write_timeout"`
			PingInterval int `yaml:"ping_interval"`
		} `yaml:"websocket"`
	} `yaml:"api"`

	Mbus struct {
		MaxSlots int `yaml:"max_slots"`
		Backlog  int `yaml:"backlog"`
	} `yaml:"mbus"`

	Prometheus struct {
		Namespace string `yaml:"namespace"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		Realm     string `yaml:"realm"`
	} `yaml:"prometheus"`

	Fabric struct {
		KeyFile string `yaml:"private_key"`
	} `yaml:"fabric"`

	Archive struct {
		URL     string `yaml:"url"`
		Keyring string `yaml:"keyring"`
		Release string `yaml:"release"`
	} `yaml:"archive"`

	Workflow struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"workflow"`

	Liveness struct {
		Grace int `yaml:"grace"`
	} `yaml:"liveness"`

	Metadata struct {
		Retention struct {
			RunLogs int `yaml:"run_logs"`
		} `yaml:"retention"`
	} `yaml:"metadata"`
}

func ReadConfig(file string) (Config, error) {
	var config Config
	config.Database = "anvil.db"
	config.Scheduler.FastLoop = 1
	config.Scheduler.SlowLoop = 60 * 5
	config.Scheduler.Threads = 5
	config.API.Bind = "*:8111"
	config.API.Websocket.WriteTimeout = 45
	config.API.Websocket.PingInterval = 30
	config.Mbus.MaxSlots = 256
	config.Mbus.Backlog = 100
	config.Fabric.KeyFile = "anvil.key"
	config.Archive.URL = "http://archive.ubuntu.com/ubuntu"
	config.Archive.Release = "jammy"
	config.Workflow.MaxAttempts = 3
	config.Liveness.Grace = 180
	config.Metadata.Retention.RunLogs = 86400 * 7

	/* optionally read configuration from a file */
	if file != "" {
		b, err := ioutil.ReadFile(file)
		if err != nil {
			return config, err
		}

		if err = yaml.Unmarshal(b, &config); err != nil {
			return config, err
		}
	}

	/* validate configuration */
	if config.Scheduler.FastLoop <= 0 {
		return config, fmt.Errorf("scheduler.fast_loop value '%d' is invalid (must be greater than zero)", config.Scheduler.FastLoop)
	}
	if config.Scheduler.SlowLoop <= 0 {
		return config, fmt.Errorf("scheduler.slow_loop value '%d' is invalid (must be greater than zero)", config.Scheduler.SlowLoop)
	}
	if config.Scheduler.Threads <= 0 {
		return config, fmt.Errorf("scheduler.threads value '%d' is invalid (must be greater than zero)", config.Scheduler.Threads)
	}
	if config.Workflow.MaxAttempts <= 0 {
		return config, fmt.Errorf("workflow.max_attempts value '%d' is invalid (must be greater than zero)", config.Workflow.MaxAttempts)
	}
	if config.Liveness.Grace <= 0 {
		return config, fmt.Errorf("liveness.grace value '%d' is invalid (must be greater than zero)", config.Liveness.Grace)
	}
	if config.Mbus.MaxSlots <= 0 {
		return config, fmt.Errorf("mbus.max_slots value '%d' is invalid (must be greater than zero)", config.Mbus.MaxSlots)
	}
	if config.Mbus.Backlog <= 0 {
		return config, fmt.Errorf("mbus.backlog value '%d' is invalid (must be greater than zero)", config.Mbus.Backlog)
	}

	return config, nil
}
