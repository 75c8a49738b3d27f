package topology

import (
	"fmt"
	"net"
	"strconv"
)

const DefaultPort = 3306

// Instance identifies a MySQL instance by hostname and port.
type Instance struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
}

func (i Instance) String() string {
	return net.JoinHostPort(i.Hostname, strconv.Itoa(i.Port))
}

func (i Instance) Validate() error {
	if i.Hostname == "" {
		return fmt.Errorf("invalid instance %q: hostname is mandatory", i.String())
	}
	if i.Port <= 0 || i.Port > 65535 {
		return fmt.Errorf("invalid instance %q: port out of range", i.String())
	}
	return nil
}

// ParseInstance parses "host:port". The port defaults to 3306 when omitted.
func ParseInstance(raw string) (Instance, error) {
	host, portRaw, err := net.SplitHostPort(raw)
	if err != nil {
		instance := Instance{Hostname: raw, Port: DefaultPort}
		if vErr := instance.Validate(); vErr != nil {
			return Instance{}, vErr
		}
		return instance, nil
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return Instance{}, fmt.Errorf("error parsing port in %q: %v", raw, err)
	}
	instance := Instance{Hostname: host, Port: port}
	if err := instance.Validate(); err != nil {
		return Instance{}, err
	}
	return instance, nil
}
