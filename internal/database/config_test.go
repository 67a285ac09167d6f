package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigStrings(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "novel", Password: "p@ss word", DBName: "stories", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=novel password=p@ss word dbname=stories sslmode=disable", cfg.ConnectionString())
	assert.NotContains(t, cfg.MaskedConnectionString(), "p@ss")
	assert.Contains(t, cfg.MaskedConnectionString(), "password=********")
	assert.Equal(t, "postgres://novel:p%40ss%20word@db:5432/stories?sslmode=disable", cfg.URL())
}
