package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Folder event actions.
const (
	FolderActionCreate = "folder.create"
	FolderActionRename = "folder.rename"
	FolderActionMove   = "folder.move"
)

// FolderEvent records the outcome of a folder mutation for later inspection.
type FolderEvent struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	FolderID  string         `gorm:"size:36;index" json:"folder_id"`
	Action    string         `gorm:"not null;index" json:"action"`
	Actor     string         `gorm:"size:128" json:"actor"`
	OldPath   string         `json:"old_path"`
	NewPath   string         `json:"new_path"`
	Result    string         `gorm:"not null" json:"result"`
	Metadata  datatypes.JSON `json:"metadata"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns an identifier when none was provided.
func (e *FolderEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = newID()
	}
	return nil
}
