package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckStorageBackend(t *testing.T) {
	assert.NoError(t, checkStorageBackend("postgres"))

	err := checkStorageBackend("memory")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires postgres")
}
