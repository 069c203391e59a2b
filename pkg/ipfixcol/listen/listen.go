// Package listen parses listen addresses such as
// ipfix://:4739?count=4&workers=8&blocking=false&queue_size=100000.
package listen

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const DefaultPort = 4739

type ListenerConfig struct {
	Scheme     string
	Hostname   string
	Port       int
	NumSockets int
	NumWorkers int
	Blocking   bool
	QueueSize  int
}

func (c ListenerConfig) String() string {
	return fmt.Sprintf("%s://%s", c.Scheme, net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port)))
}

func queryUint(q url.Values, name string) (int, bool, error) {
	if !q.Has(name) {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(q.Get(name), 10, 31)
	if err != nil {
		return 0, false, fmt.Errorf("error parsing %s in URL: %w", name, err)
	}
	return int(v), true, nil
}

func parseListenAddress(listenAddress string) (ListenerConfig, error) {
	listenAddrURL, err := url.Parse(strings.TrimSpace(listenAddress))
	if err != nil {
		return ListenerConfig{}, fmt.Errorf("parse listen address %q: %w", listenAddress, err)
	}
	cfg := ListenerConfig{
		Scheme:   listenAddrURL.Scheme,
		Hostname: listenAddrURL.Hostname(),
		Port:     DefaultPort,
	}
	if cfg.Scheme != "ipfix" {
		return cfg, fmt.Errorf("scheme does not exist: %q", cfg.Scheme)
	}
	if p := listenAddrURL.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return cfg, fmt.Errorf("port could not be converted to integer: %s: %w", p, err)
		}
		cfg.Port = int(port)
	}

	q := listenAddrURL.Query()
	if cfg.NumSockets, _, err = queryUint(q, "count"); err != nil {
		return cfg, err
	}
	if cfg.NumSockets == 0 {
		cfg.NumSockets = 1
	}
	if cfg.NumWorkers, _, err = queryUint(q, "workers"); err != nil {
		return cfg, err
	}
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = cfg.NumSockets * 2
	}
	if q.Has("blocking") {
		if cfg.Blocking, err = strconv.ParseBool(q.Get("blocking")); err != nil {
			return cfg, fmt.Errorf("error parsing blocking in URL: %w", err)
		}
	}
	queueSize, ok, err := queryUint(q, "queue_size")
	if err != nil {
		return cfg, err
	}
	if ok {
		cfg.QueueSize = queueSize
	} else if !cfg.Blocking {
		cfg.QueueSize = 1000000
	}
	return cfg, nil
}

// ParseListenAddresses parses a comma-separated list of listen URLs.
func ParseListenAddresses(spec string) ([]ListenerConfig, error) {
	var cfgs []ListenerConfig
	for _, listenAddress := range strings.Split(spec, ",") {
		if strings.TrimSpace(listenAddress) == "" {
			continue
		}
		cfg, err := parseListenAddress(listenAddress)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}
