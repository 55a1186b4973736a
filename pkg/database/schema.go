package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a database carries the chat schema.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{"users", "chats", "chat_participants", "messages", "schema_migrations"}

var requiredIndexes = []string{
	"idx_participants_user",
	"idx_messages_chat_time",
	"idx_messages_chat_status",
}

// Validate reports the first missing table or index.
func (v *SchemaValidator) Validate() error {
	for _, table := range requiredTables {
		if err := v.require("table", table); err != nil {
			return err
		}
	}
	for _, index := range requiredIndexes {
		if err := v.require("index", index); err != nil {
			return err
		}
	}
	return nil
}

func (v *SchemaValidator) require(kind, name string) error {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("error checking %s %s: %w", kind, name, err)
	}
	if count == 0 {
		return fmt.Errorf("required %s %s does not exist", kind, name)
	}
	return nil
}
