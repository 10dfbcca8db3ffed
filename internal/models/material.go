package models

import (
	"time"

	"gorm.io/gorm"
)

// Material is a knowledge-base item. FolderPath points into the folder path namespace by value,
// not by foreign key; an empty FolderPath marks the material as uncategorized.
type Material struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Title       string    `gorm:"not null" json:"title"`
	FileName    string    `json:"file_name"`
	FolderPath  string    `gorm:"size:768;not null;default:'';index" json:"folder_path"`
	CreatedBy   string    `gorm:"size:128" json:"created_by"`
	CreatedDate time.Time `gorm:"not null" json:"created_date"`
	UpdatedDate time.Time `gorm:"not null" json:"updated_date"`
}

// IsUncategorized reports whether the material lives outside any folder.
func (m Material) IsUncategorized() bool {
	return m.FolderPath == ""
}

// BeforeCreate assigns an identifier when none was provided.
func (m *Material) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = newID()
	}
	return nil
}
