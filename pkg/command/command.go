package command

import (
	"errors"
	"fmt"
	"strings"
)

type Command struct {
	Command []string
	Args    []string
}

func NewCommand(cmd, args []string) *Command {
	return &Command{
		Command: cmd,
		Args:    args,
	}
}

// Argv returns the full argument vector, binary first.
func (c *Command) Argv() []string {
	argv := make([]string, 0, len(c.Command)+len(c.Args))
	argv = append(argv, c.Command...)
	return append(argv, c.Args...)
}

// Name is the base name of the binary, used to identify pipeline stages.
func (c *Command) Name() string {
	if len(c.Command) == 0 {
		return ""
	}
	bin := c.Command[0]
	if i := strings.LastIndex(bin, "/"); i >= 0 {
		return bin[i+1:]
	}
	return bin
}

// String renders the command for logging with passwords redacted.
func (c *Command) String() string {
	argv := c.Argv()
	redacted := make([]string, len(argv))
	for i, arg := range argv {
		if strings.HasPrefix(arg, "--password=") {
			redacted[i] = "--password=*****"
			continue
		}
		redacted[i] = arg
	}
	return strings.Join(redacted, " ")
}

type ConnectionOpts struct {
	User     string
	Password string
	Host     string
	Port     int
}

func (co *ConnectionOpts) validate(requireHost bool) error {
	if co.User == "" {
		return errors.New("user must be set")
	}
	if co.Password == "" {
		return errors.New("password must be set")
	}
	if requireHost && co.Host == "" {
		return errors.New("host must be set")
	}
	if co.Port <= 0 {
		return errors.New("port must be set")
	}
	return nil
}

func ConnectionFlags(co *ConnectionOpts) ([]string, error) {
	if err := co.validate(true); err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf("--user=%s", co.User),
		fmt.Sprintf("--password=%s", co.Password),
		fmt.Sprintf("--host=%s", co.Host),
		fmt.Sprintf("--port=%d", co.Port),
	}, nil
}
