package postgresql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name: "plain values",
			config: Config{
				Host:     "localhost",
				Port:     5432,
				User:     "media",
				Password: "secret",
				Database: "media_fetch",
				SSLMode:  "require",
			},
			want: "host='localhost' port=5432 user='media' password='secret' dbname='media_fetch' sslmode=require",
		},
		{
			name: "sslmode defaults to disable",
			config: Config{
				Host:     "db",
				Port:     5433,
				User:     "u",
				Database: "d",
			},
			want: "host='db' port=5433 user='u' password='' dbname='d' sslmode=disable",
		},
		{
			name: "password with quote and space",
			config: Config{
				Host:     "db",
				Port:     5432,
				User:     "u",
				Password: `it's a \secret`,
				Database: "d",
				SSLMode:  "disable",
			},
			want: `host='db' port=5432 user='u' password='it\'s a \\secret' dbname='d' sslmode=disable`,
		},
		{
			name: "connect timeout",
			config: Config{
				Host:           "db",
				Port:           5432,
				User:           "u",
				Database:       "d",
				SSLMode:        "disable",
				ConnectTimeout: 3 * time.Second,
			},
			want: "host='db' port=5432 user='u' password='' dbname='d' sslmode=disable connect_timeout=3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}
