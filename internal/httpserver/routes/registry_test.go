package routes

import (
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
)

func TestGroups_NameOrder(t *testing.T) {
	assert.Equal(t, []string{"instance", "probes", "refresh"}, Groups())
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() { Register("probes", func(chi.Router, deps.Deps) {}) })
}
