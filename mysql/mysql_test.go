package mysql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"

	chain "github.com/sk8tz/Chain"
)

func TestOpen_InvalidDSN(t *testing.T) {
	_, err := Open(context.Background(), "no-slash-here")
	if !errors.Is(err, chain.ErrInvalidDataSource) {
		t.Fatalf("want ErrInvalidDataSource, got %v", err)
	}
}

func TestProvider(t *testing.T) {
	var p Provider
	if p.QuoteIdentifier("app.users") != "`app`.`users`" {
		t.Fatal(p.QuoteIdentifier("app.users"))
	}
	if p.SupportsReturning() || p.FileBased() || p.Placeholder() != chain.PlaceholderQuestion {
		t.Fatal("provider capabilities")
	}
}

func TestIsCanceled(t *testing.T) {
	var p Provider
	interrupted := &mysql.MySQLError{Number: queryInterrupted, Message: "Query execution was interrupted"}
	if !p.IsCanceled(interrupted) {
		t.Fatal("1317 is a cancellation")
	}
	if !p.IsCanceled(fmt.Errorf("wrapped: %w", interrupted)) {
		t.Fatal("wrapped 1317 is a cancellation")
	}
	if p.IsCanceled(&mysql.MySQLError{Number: 1062}) || p.IsCanceled(errors.New("x")) {
		t.Fatal("other errors are not")
	}
}
