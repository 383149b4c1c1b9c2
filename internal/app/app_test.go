package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeline/internal/engine"
)

func TestOpenWiresBackendsFromEnv(t *testing.T) {
	workspace := t.TempDir()
	cfg := []byte(`generation:
  api_key_env: TEST_APP_GENAI_KEY
mail:
  refresh_token_env: TEST_APP_MAIL_REFRESH
  sender: recruiter@agency.com
`)
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "intakeline.yml"), cfg, 0o644))

	t.Setenv("TEST_APP_GENAI_KEY", "")
	t.Setenv("TEST_APP_MAIL_REFRESH", "")
	a, err := Open(context.Background(), Options{Workspace: workspace})
	require.NoError(t, err)
	assert.Nil(t, a.Engine.Generator)
	assert.Nil(t, a.Engine.Mailer)
	require.NoError(t, a.Close())

	t.Setenv("TEST_APP_GENAI_KEY", "sk-test")
	t.Setenv("TEST_APP_MAIL_REFRESH", "refresh")
	a, err = Open(context.Background(), Options{Workspace: workspace})
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Engine.Generator)
	assert.NotNil(t, a.Engine.Mailer)
	assert.Equal(t, "recruiter@agency.com", a.Config.Mail.Sender)

	_, err = a.Engine.CreateTemplate(context.Background(), engine.TemplateCreateOptions{Name: ""})
	assert.Equal(t, engine.KindValidation, engine.ErrorKind(err))
}

func TestLoadConfigExplicitPath(t *testing.T) {
	_, err := LoadConfig(Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yml")})
	require.Error(t, err)

	cfg, err := LoadConfig(Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}
