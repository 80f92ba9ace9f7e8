package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vobbilis/mytsdb-sub000/httpapi"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	p := filepath.Join(dir, "tsdbcore.conf")
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestLoadConfigFileAppliesDefaults(t *testing.T) {
	p := writeConfig(t, "[Global]\n")
	cfg, err := LoadConfigFile(p)
	require.NoError(t, err)
	require.Equal(t, "data", cfg.Global.Data_Directory)
	require.Equal(t, int64(64<<20), cfg.Global.Block_Size)
	require.Equal(t, int64(2*60*60*1000), cfg.Global.Block_Duration_MS)
	require.Equal(t, "none", cfg.Auth.Mode)
	require.Equal(t, ":8080", cfg.Listen.HTTP_Address)
}

func TestLoadConfigFileParsesOverrides(t *testing.T) {
	p := writeConfig(t, `
[Global]
Data_Directory=/var/lib/tsdbcore
Block_Duration_MS=60000
Enable_Compression=true
Shards=4

[Auth]
Mode=basic
Basic_User=admin
Basic_Password=hunter2

[Listen]
HTTP_Address=:9090
`)
	cfg, err := LoadConfigFile(p)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/tsdbcore", cfg.Global.Data_Directory)
	require.Equal(t, int64(60000), cfg.Global.Block_Duration_MS)
	require.True(t, cfg.Global.Enable_Compression)
	require.Equal(t, 4, cfg.Global.Shards)
	require.Equal(t, "basic", cfg.Auth.Mode)
	require.Equal(t, ":9090", cfg.Listen.HTTP_Address)
}

func TestVerifyRejectsIncompleteBasicAuth(t *testing.T) {
	p := writeConfig(t, "[Auth]\nMode=basic\n")
	_, err := LoadConfigFile(p)
	require.Error(t, err)
}

func TestVerifyRejectsUnknownAuthMode(t *testing.T) {
	p := writeConfig(t, "[Auth]\nMode=magic\n")
	_, err := LoadConfigFile(p)
	require.Error(t, err)
}

func TestToStorageConfigProjectsOptions(t *testing.T) {
	p := writeConfig(t, "[Global]\nData_Directory=/tmp/x\nBlock_Duration_MS=5000\n")
	cfg, err := LoadConfigFile(p)
	require.NoError(t, err)
	sc := cfg.ToStorageConfig()
	require.Equal(t, "/tmp/x", sc.DataDir)
	require.Equal(t, int64(5000), sc.BlockDurationMS)
	require.Equal(t, int64(30_000), sc.QueryTimeoutMS)
	require.Equal(t, int64(1_000_000), sc.MaxSamplesPerQuery)
}

func TestToAuthenticatorBuildsBearer(t *testing.T) {
	p := writeConfig(t, "[Auth]\nMode=bearer\nBearer_Secret=s3cret\n")
	cfg, err := LoadConfigFile(p)
	require.NoError(t, err)
	auth, ok := cfg.ToAuthenticator().(httpapi.Bearer)
	require.True(t, ok)
	require.Equal(t, []byte("s3cret"), auth.Secret)
}

func TestToAuthenticatorBuildsCompositeAllMode(t *testing.T) {
	p := writeConfig(t, "[Auth]\nMode=composite\nComposite_Mode=all\nBasic_User=admin\nBasic_Password=hunter2\nHeader_Name=X-Token\nHeader_Value=secret\n")
	cfg, err := LoadConfigFile(p)
	require.NoError(t, err)
	auth, ok := cfg.ToAuthenticator().(httpapi.Composite)
	require.True(t, ok)
	require.Equal(t, httpapi.All, auth.Mode)
	require.Len(t, auth.Authenticators, 2)
}

func TestVerifyRejectsUnknownCompositeMode(t *testing.T) {
	p := writeConfig(t, "[Auth]\nMode=composite\nComposite_Mode=weird\nBasic_User=admin\nBasic_Password=hunter2\n")
	_, err := LoadConfigFile(p)
	require.Error(t, err)
}
