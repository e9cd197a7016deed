package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTwinStore_NotConfigured(t *testing.T) {
	store, err := newTwinStore(&RuntimeConfig{})

	assert.Nil(t, store)
	assert.ErrorIs(t, err, ErrTwinStoreNotConfigured)
}
