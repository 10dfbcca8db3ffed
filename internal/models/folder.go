package models

import (
	"time"

	"gorm.io/gorm"
)

// Folder is a node of the folder index. Path is materialized from the ancestor names and is
// unique across the table; sibling name uniqueness follows from it.
type Folder struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"not null;size:255" json:"name"`
	ParentID    string    `gorm:"size:36;not null;default:'';index" json:"parent_id"`
	Path        string    `gorm:"size:768;not null;uniqueIndex" json:"path"`
	CreatedBy   string    `gorm:"size:128" json:"created_by"`
	CreatedDate time.Time `gorm:"not null;index" json:"created_date"`
	UpdatedDate time.Time `gorm:"not null" json:"updated_date"`
}

// IsRoot reports whether the folder sits at the top of the tree.
func (f Folder) IsRoot() bool {
	return f.ParentID == ""
}

// BeforeCreate assigns an identifier when none was provided.
func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = newID()
	}
	return nil
}
