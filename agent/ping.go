package agent

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jhunt/go-log"

	"github.com/anvilproject/anvil/catalog"
)

//Ping keeps this agent registered with the ANVIL core: one POST to
// /v1/racks to (re-)register by name, then a heartbeat per interval
// reporting the images held in the current snapshot.
func (agent *Agent) Ping() {
	if agent.Registration.URL == "" {
		log.Infof("no registration.url provided; skipping agent auto-registration")
		return
	}
	if agent.Registration.Interval <= 0 {
		log.Errorf("invalid registration.interval %d supplied; skipping agent auto-registration", agent.Registration.Interval)
		return
	}

	pool := x509.NewCertPool()
	if agent.Registration.CACert != "" {
		if ok := pool.AppendCertsFromPEM([]byte(agent.Registration.CACert)); !ok {
			log.Errorf("invalid or malformed CA certificate")
			return
		}
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: agent.Registration.SkipVerify,
				RootCAs:            pool,
			},
			Proxy:             http.ProxyFromEnvironment,
			DisableKeepAlives: true,
		},
		Timeout: 30 * time.Second,
	}

	ping := func() {
		log.Debugf("pinging anvil core")

		uuid, err := agent.register(client)
		if err != nil {
			log.Errorf("failed to register with %s: %s", agent.Registration.URL, err)
			return
		}

		if err := agent.heartbeat(client, uuid); err != nil {
			log.Errorf("failed to send heartbeat to %s: %s", agent.Registration.URL, err)
			return
		}

		log.Infof("registered with %s as %s (rack %s)", agent.Registration.URL, agent.Name, uuid)
	}

	t := time.NewTicker(time.Duration(agent.Registration.Interval) * time.Second)
	ping()
	for range t.C {
		ping()
	}
}

func (agent *Agent) register(client *http.Client) (string, error) {
	params := struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}{
		Name:    agent.Name,
		Address: fmt.Sprintf("%s:%d", agent.Name, agent.Port),
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest("POST", agent.Registration.URL+"/v1/racks", bytes.NewBuffer(b))
	if err != nil {
		return "", err
	}

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		return "", fmt.Errorf("ANVIL core responded HTTP %s", res.Status)
	}

	var rack struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rack); err != nil {
		return "", err
	}
	return rack.UUID, nil
}

func (agent *Agent) heartbeat(client *http.Client, uuid string) error {
	have, err := agent.currentManifest()
	if err != nil {
		return err
	}

	type imageReport struct {
		Spec   catalog.ImageSpec `json:"spec"`
		SHA256 string            `json:"sha256"`
		Size   int64             `json:"size"`
	}
	report := struct {
		Images []imageReport `json:"images"`
	}{Images: []imageReport{}}

	for _, item := range have.Items() {
		sum, _ := item.Resource["sha256"].(string)
		size, _ := item.Resource["size"].(float64)
		report.Images = append(report.Images, imageReport{
			Spec:   item.Spec,
			SHA256: sum,
			Size:   int64(size),
		})
	}

	b, err := json.Marshal(report)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", agent.Registration.URL+"/v1/racks/"+uuid+"/heartbeat", bytes.NewBuffer(b))
	if err != nil {
		return err
	}

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		return fmt.Errorf("ANVIL core responded HTTP %s", res.Status)
	}
	return nil
}
