package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
predictor:
  endpoint: http://localhost:5000/api/predict
database:
  host: db
  name: xray
identity:
  apiKey: test-key
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Predictor.Timeout)
	assert.Equal(t, "image", cfg.Predictor.FieldName)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.MaxIdle)
	assert.Equal(t, 15*time.Minute, cfg.Previews.TTL)
	assert.Equal(t, 60, cfg.RateLimit.Requests)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9090
database:
  driver: postgres
  host: db
  user: xray
  password: "p@ss"
  name: xray
identity:
  apiKey: k
predictor:
  endpoint: https://model.internal/api/predict
  timeout: 45s
  fieldName: file
sessions:
  maxIdle: 5m
`))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 45*time.Second, cfg.Predictor.Timeout)
	assert.Equal(t, "file", cfg.Predictor.FieldName)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.MaxIdle)
	assert.Equal(t, "postgres://xray:p%40ss@db:5432/xray?sslmode=disable", cfg.PostgresDSN())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
	}{
		{"missing endpoint", "endpoint: http://localhost:5000/api/predict", "endpoint: ''"},
		{"bad endpoint", "endpoint: http://localhost:5000/api/predict", "endpoint: localhost:5000"},
		{"bad driver", "  host: db\n", "  driver: sqlite\n  host: db\n"},
		{"db without host", "  host: db\n", ""},
		{"missing api key", "apiKey: test-key", "apiKey: ''"},
		{"minio incomplete", "identity:", "minio:\n  enabled: true\nidentity:"},
		{"bad port", "identity:", "server:\n  port: 70000\nidentity:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(minimal, tt.old, tt.new, 1)
			require.NotEqual(t, minimal, doc)
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_NotYAML(t *testing.T) {
	_, err := Parse([]byte("predictor: ["))
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	cfg, err := Parse([]byte(`
predictor: {endpoint: "http://x"}
identity: {apiKey: k}
database: {driver: mysql, host: db, user: root, password: secret, name: xray}
`))
	require.NoError(t, err)
	assert.Equal(t, "root:secret@tcp(db:3306)/xray?parseTime=true&charset=utf8mb4&loc=UTC", cfg.MySQLDSN())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/api/predict", cfg.Predictor.Endpoint)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
