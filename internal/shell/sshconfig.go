package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SSHHostConfig is the part of a ~/.ssh/config Host block the executor
// uses.
type SSHHostConfig struct {
	Host         string
	HostName     string
	User         string
	IdentityFile string
	Port         string
}

// ParseSSHConfig returns the ~/.ssh/config block for host, or nil when the
// file or the host does not exist.
func ParseSSHConfig(host string) (*SSHHostConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	f, err := os.Open(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ssh config: %w", err)
	}
	defer f.Close()

	var (
		found   *SSHHostConfig
		inBlock bool
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}

		if strings.EqualFold(key, "Host") {
			if found != nil {
				break
			}
			inBlock = false
			for _, pattern := range strings.Fields(value) {
				if matchHost(host, pattern) {
					inBlock = true
					found = &SSHHostConfig{Host: host}
					break
				}
			}
			continue
		}
		if !inBlock {
			continue
		}

		switch strings.ToLower(key) {
		case "hostname":
			found.HostName = value
		case "user":
			found.User = value
		case "identityfile":
			found.IdentityFile = expandHome(value, home)
		case "port":
			found.Port = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ssh config: %w", err)
	}
	return found, nil
}

// ResolveSSHTarget applies ~/.ssh/config to a target. A user@host target
// and non-empty user and key arguments take precedence over the config.
func ResolveSSHTarget(target, user, key string) (host, resolvedUser, resolvedKey string, err error) {
	host = target
	if at := strings.LastIndex(target, "@"); at >= 0 {
		if user == "" {
			user = target[:at]
		}
		host = target[at+1:]
	}

	cfg, err := ParseSSHConfig(host)
	if err != nil {
		return "", "", "", err
	}
	if cfg != nil {
		if cfg.HostName != "" {
			host = cfg.HostName
		}
		if user == "" {
			user = cfg.User
		}
		if key == "" {
			key = cfg.IdentityFile
		}
	}
	return host, user, key, nil
}

// matchHost compares target against one Host pattern. Only exact names are
// supported.
func matchHost(target, pattern string) bool {
	return target == pattern
}

func splitDirective(line string) (key, value string, ok bool) {
	i := strings.IndexAny(line, " \t=")
	if i < 0 {
		return "", "", false
	}
	key = line[:i]
	value = strings.TrimSpace(strings.TrimLeft(line[i:], " \t="))
	return key, strings.Trim(value, `"`), value != ""
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
