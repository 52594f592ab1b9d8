package odbc

import (
	"testing"

	"github.com/tomyedwab/odbcbridge/odbc/api/sqlhost"
)

func TestInitOnce(t *testing.T) {
	if Default() != nil {
		t.Fatal("expected no process environment before InitOnce")
	}
	env, err := InitOnce(sqlhost.New(sqlhost.Options{}), EnvironmentOptions{Pooling: true})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if Default() != env {
		t.Error("expected Default to return the process environment")
	}
	again, err := InitOnce(sqlhost.New(sqlhost.Options{}), EnvironmentOptions{})
	if err != nil || again != env {
		t.Errorf("expected the first environment back, got %p (%v)", again, err)
	}

	c := openTestConnection(t, Default(), "Driver=SQLite3;Database=:memory:")
	execute(t, c, "SELECT 1 AS x")
	if len(c.Metadata()) != 1 {
		t.Error("expected a usable connection")
	}
}
