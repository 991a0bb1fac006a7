package state

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestMapMySQLError_DuplicateKeyIsConflict(t *testing.T) {
	dup := &mysql.MySQLError{Number: mysqlErrDupEntry, Message: "Duplicate entry '77' for key 'PRIMARY'"}

	for _, in := range []error{dup, fmt.Errorf("insert product: %w", dup)} {
		err := mapMySQLError(in)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for %v, got %v", in, err)
		}
	}
}

func TestMapMySQLError_OtherErrorsPassThrough(t *testing.T) {
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	plain := errors.New("connection reset")

	for _, in := range []error{deadlock, plain} {
		err := mapMySQLError(in)
		if err != in {
			t.Fatalf("expected %v unchanged, got %v", in, err)
		}
		if errors.Is(err, ErrConflict) {
			t.Fatalf("%v must not map to ErrConflict", in)
		}
	}

	if err := mapMySQLError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
