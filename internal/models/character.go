// internal/models/character.go
package models

import (
	"strings"
	"time"
)

// Character is the canonical visual identity of a named person across the corpus.
// Descriptor and ReferenceImage never change after creation.
type Character struct {
	Key            string    `gorm:"primaryKey;size:200" json:"key"`
	Name           string    `gorm:"not null" json:"name"`
	Descriptor     string    `gorm:"type:text;not null" json:"descriptor"`
	ReferenceImage string    `json:"reference_image"`
	Appearances    int       `gorm:"not null;default:0" json:"appearances"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Character) TableName() string {
	return "characters"
}

// NormalizeName folds case and collapses whitespace so that
// "Anna  Karenina" and "anna karenina" address the same character.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
