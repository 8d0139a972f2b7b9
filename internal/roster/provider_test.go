package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	constructor := func(ldap.Logger) Provider { return &mockProvider{} }

	require.NoError(t, r.Register("DingTalk", constructor))
	require.NoError(t, r.Register("wecom", constructor))
	assert.Equal(t, []string{"dingtalk", "wecom"}, r.Names())

	err := r.Register("dingtalk", constructor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	require.Error(t, r.Register("", constructor))
	require.Error(t, r.Register("feishu", nil))

	p, err := r.Create(" DINGTALK ", ldap.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())

	_, err = r.Create("feishu", ldap.NewNullLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dingtalk, wecom")
}

func TestProviderFetchError(t *testing.T) {
	cause := assert.AnError
	err := &ProviderFetchError{Provider: "dingtalk", Operation: "users", Target: "42", Cause: cause}
	assert.Equal(t, "dingtalk: fetch users for 42: "+cause.Error(), err.Error())
	assert.ErrorIs(t, err, cause)

	err = &ProviderFetchError{Provider: "wecom", Operation: "token", Cause: cause}
	assert.Equal(t, "wecom: fetch token: "+cause.Error(), err.Error())
}
