package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSettings = `[general]
rootdir = %s

[credentials]
token = glpat-secret

[gpg]
passphrase = correct horse

[builder]
container_runtime = podman
container_user = 1000:1000

[server]
port = 9090
`

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpmbuilder.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadReadsNamedValues(t *testing.T) {
	root := t.TempDir()
	path := writeSettings(t, fmt.Sprintf(sampleSettings, root))

	s, err := Load(path)
	require.NoError(t, err)

	dir, err := s.RootDir()
	require.NoError(t, err)
	assert.Equal(t, root, dir)

	token, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "glpat-secret", token)

	pass, err := s.Passphrase()
	require.NoError(t, err)
	assert.Equal(t, "correct horse", pass)

	cfg := s.Config()
	assert.Equal(t, "podman", cfg.Builder.ContainerRuntime)
	assert.Equal(t, "1000:1000", cfg.Builder.ContainerUser)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 600, cfg.Builder.HTTPTimeoutSeconds, "defaults fill unset keys")
	assert.Empty(t, cfg.History.DatabasePath)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	require.Error(t, err)
	assert.Equal(t, rerrors.ExitConfigUnavailable, rerrors.ExitCode(err))
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeSettings(t, "[general\nrootdir = /srv\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, rerrors.IsKind(err, rerrors.KindConfigUnavailable))
}

func TestMissingKeyIsUnavailable(t *testing.T) {
	path := writeSettings(t, "[general]\nrootdir = /srv/rpmbuild\n")

	s, err := Load(path)
	require.NoError(t, err)

	_, err = s.Token()
	require.Error(t, err)
	assert.True(t, rerrors.IsKind(err, rerrors.KindConfigUnavailable))
	assert.Contains(t, err.Error(), KeyToken)

	_, err = s.Passphrase()
	assert.True(t, rerrors.IsKind(err, rerrors.KindConfigUnavailable))
}

func TestEnvironmentOverride(t *testing.T) {
	path := writeSettings(t, "[general]\nrootdir = /srv/rpmbuild\n")
	t.Setenv("RPMBUILDER_CREDENTIALS_TOKEN", "from-env")

	s, err := Load(path)
	require.NoError(t, err)

	token, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Builder: BuilderConfig{ContainerRuntime: "docker", ContainerUser: "991:988"},
		Server:  ServerConfig{Port: 8080},
	}
	require.NoError(t, cfg.Validate())

	cfg.Builder.ContainerRuntime = "lxc"
	assert.Error(t, cfg.Validate())

	cfg.Builder.ContainerRuntime = "podman-api"
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}
