package configreg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKey(t *testing.T) {
	cases := []struct {
		key  string
		want KeyKind
	}{
		{"POSTGRES_ROOT_PASSWORD", KindRootCredential},
		{"mysql_root_password", KindRootCredential},
		{"PANEL_DB_PASSWORD", KindPairedCredential},
		{"PANEL_DB_USER", KindPairedCredential},
		{"PANEL_DB_USERNAME", KindPairedCredential},
		{"XRAY_API_PORT", KindNumericIdentity},
		{"TELEGRAM_CHAT_ID", KindNumericIdentity},
		{"RUN_AS_UID", KindNumericIdentity},
		{"JWT_SECRET", KindGenericSecret},
		{"ADMIN_PASSWORD", KindGenericSecret},
		{"API_TOKEN", KindGenericSecret},
		{"AUTH_BEARER", KindGenericSecret},
		{"TLS_KEY", KindGenericSecret},
		{"CF_API_KEY", KindGenericSecret},
		{"PANEL_DOMAIN", KindUnknown},
		{"", KindUnknown},
		{"  ", KindUnknown},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyKey(tc.key), "key %q", tc.key)
	}
}

func TestCounterpartKeys(t *testing.T) {
	assert.Equal(t, []string{"PANEL_DB_USER", "PANEL_DB_USERNAME"}, CounterpartKeys("PANEL_DB_PASSWORD"))
	assert.Equal(t, []string{"PANEL_DB_PASSWORD"}, CounterpartKeys("PANEL_DB_USER"))
	assert.Equal(t, []string{"PANEL_DB_PASSWORD"}, CounterpartKeys("PANEL_DB_USERNAME"))
	assert.Nil(t, CounterpartKeys("JWT_SECRET"))
}

func TestIsDefault(t *testing.T) {
	d := DefaultTable()

	assert.True(t, d.IsDefault("POSTGRES_ROOT_PASSWORD", "changeme"))
	assert.True(t, d.IsDefault("ANY_KEY", "your_secret_here"), "marker prefix")
	assert.True(t, d.IsDefault("ANY_KEY", "CHANGE_THIS_NOW"), "marker prefix is case-insensitive")
	assert.True(t, d.IsDefault("PANEL_DOMAIN", "example.com"), "placeholder value")
	assert.True(t, d.IsDefault("BIND_ADDR", "LocalHost"), "placeholder value is case-insensitive")

	assert.False(t, d.IsDefault("POSTGRES_ROOT_PASSWORD", "s3cure-real-pass"))
	assert.False(t, d.IsDefault("ANY_KEY", ""), "empty is a rejection, not a default")

	// 对照表是注入的结构，测试可以替换夹具。
	fixture := Defaults{Known: map[string]string{"K": "v1"}}
	assert.True(t, fixture.IsDefault("K", "v1"))
	assert.False(t, fixture.IsDefault("K", "example.com"), "fixture has no placeholder list")
}
