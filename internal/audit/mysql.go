// Package audit records group and connection lifecycle events to a
// MySQL table for after-the-fact inspection. It is an observability
// sink only: the receiver never reads its own state back from it, so
// losing the database does not change receiver behavior or reinstate
// any persistence-across-restart guarantee.
package audit

import (
	"database/sql"
	"log"

	_ "github.com/go-sql-driver/mysql"
)

// Trail is a MySQL-backed lifecycle audit log.
type Trail struct {
	db *sql.DB
}

// NewTrail opens (and pings) a MySQL connection for audit logging.
func NewTrail(dsn string) (*Trail, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	log.Println("audit: connected to MySQL")
	return &Trail{db: db}, nil
}

// RecordGroupCreated logs a new group's registration.
func (t *Trail) RecordGroupCreated(groupHex string, peer string) {
	t.insert("group_created", groupHex, peer, "")
}

// RecordGroupDestroyed logs a group's teardown.
func (t *Trail) RecordGroupDestroyed(groupHex string, reason string) {
	t.insert("group_destroyed", groupHex, "", reason)
}

// RecordConnectionRecovered logs a successful recovery trial.
func (t *Trail) RecordConnectionRecovered(groupHex string, peer string) {
	t.insert("connection_recovered", groupHex, peer, "")
}

// RecordRegistrationRejected logs a REG_ERR/REG_NGP outcome.
func (t *Trail) RecordRegistrationRejected(peer string, reason string) {
	t.insert("registration_rejected", "", peer, reason)
}

func (t *Trail) insert(event, groupHex, peer, detail string) {
	_, err := t.db.Exec(
		`INSERT INTO srtla_audit_log (event, group_id, peer, detail, occurred_at) VALUES (?, ?, ?, ?, NOW())`,
		event, groupHex, peer, detail,
	)
	if err != nil {
		log.Printf("audit: insert failed: %v", err)
	}
}

// Close closes the underlying MySQL connection.
func (t *Trail) Close() {
	if err := t.db.Close(); err != nil {
		log.Printf("audit: close failed: %v", err)
	}
}
