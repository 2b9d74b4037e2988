// Package lifecycle resolves a mapper's on-disk directory, classifies the
// sibling mappers installed alongside it, derives its service identity,
// and enforces single-instance startup via an exclusive file lock.
package lifecycle

import (
	"fmt"
	"path/filepath"
)

const mappersRoot = "/etc/tedge/mappers"

// ResolveDir returns the mapper's configuration directory:
// /etc/tedge/mappers/<name>.<profile>/ when profile is set, otherwise
// /etc/tedge/mappers/<name>/.
func ResolveDir(name, profile string) string {
	dirName := name
	if profile != "" {
		dirName = name + "." + profile
	}
	return filepath.Join(mappersRoot, dirName)
}

// MappersRoot returns the directory scanned for sibling mapper
// installations, exposed for tests and the CLI.
func MappersRoot() string {
	return mappersRoot
}

// ServiceIdentity names everything the lifecycle controller derives from
// (name, profile) once: the systemd-style service name, the bridge's own
// service name, its health topic, and its lock path.
type ServiceIdentity struct {
	Name       string
	BridgeName string
	HealthTopic string
	LockPath   string
}

// NewServiceIdentity derives a ServiceIdentity for a mapper named name
// running under profile (profile may be empty).
func NewServiceIdentity(name, profile string) ServiceIdentity {
	serviceName := fmt.Sprintf("tedge-mapper-%s", name)
	bridgeName := fmt.Sprintf("tedge-mapper-bridge-%s", name)
	if profile != "" {
		serviceName = fmt.Sprintf("%s@%s", serviceName, profile)
		bridgeName = fmt.Sprintf("%s@%s", bridgeName, profile)
	}
	return ServiceIdentity{
		Name:        serviceName,
		BridgeName:  bridgeName,
		HealthTopic: fmt.Sprintf("te/device/main/service/%s/status/health", serviceName),
		LockPath:    fmt.Sprintf("/run/%s.lock", serviceName),
	}
}
