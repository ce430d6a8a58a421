package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"go-notify/internal/notify"
)

func TestMigrationStatements_NotifyListenerChannels(t *testing.T) {
	all := strings.Join(MigrationStatements, "\n")
	for _, ch := range notify.Channels {
		require.Contains(t, all, "pg_notify('"+ch+"'", "no trigger publishes on %s", ch)
	}
}
