// internal/model/contact.go
package model

import "github.com/lib/pq"

type Contact struct {
	ID        int            `db:"id" json:"id"`
	Phone     string         `db:"phone" json:"phone"`
	FirstName string         `db:"first_name" json:"first_name"`
	LastName  string         `db:"last_name" json:"last_name"`
	Tags      pq.StringArray `db:"tags" json:"tags,omitempty"`
}
