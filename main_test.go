package main

import (
	"testing"

	"crmgate/cmd"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", version)

	cmd.SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", cmd.GetVersion())
}
