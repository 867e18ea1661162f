package domain

import "time"

// Folder is an organizational node. It has no bearing on where files live.
type Folder struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ParentID  *int64    `json:"parent_id,omitempty" db:"parent_id"`
	Path      string    `json:"path" db:"path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type FolderContent struct {
	Folder     Folder        `json:"folder"`
	Families   []AssetFamily `json:"families"`
	Subfolders []Folder      `json:"subfolders"`
}

type Tag struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}
