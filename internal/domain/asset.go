package domain

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultVariant   = "Base"
	DefaultExtension = "blend"
)

// Tier is the storage location of a version's files.
type Tier string

const (
	TierActive  Tier = "active"
	TierArchive Tier = "archive"
	TierRetired Tier = "retired"
)

func (t Tier) Valid() bool {
	switch t {
	case TierActive, TierArchive, TierRetired:
		return true
	}
	return false
}

// Status is the lifecycle tag of a version.
type Status string

const (
	StatusNone       Status = "none"
	StatusWIP        Status = "wip"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusDeprecated Status = "deprecated"
	StatusArchived   Status = "archived"
)

// ParseStatus maps a stored string to a Status. Empty maps to StatusNone.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case "":
		return StatusNone, nil
	case StatusNone, StatusWIP, StatusReview, StatusApproved, StatusDeprecated, StatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Representation orders versions for dependent departments.
type Representation string

const (
	RepresentationNone    Representation = "none"
	RepresentationModel   Representation = "model"
	RepresentationLookdev Representation = "lookdev"
	RepresentationRig     Representation = "rig"
	RepresentationFinal   Representation = "final"
)

func ParseRepresentation(s string) (Representation, error) {
	switch r := Representation(s); r {
	case "":
		return RepresentationNone, nil
	case RepresentationNone, RepresentationModel, RepresentationLookdev, RepresentationRig, RepresentationFinal:
		return r, nil
	}
	return "", fmt.Errorf("unknown representation %q", s)
}

// Order returns the dependency position of the representation.
func (r Representation) Order() int {
	switch r {
	case RepresentationModel:
		return 1
	case RepresentationLookdev:
		return 2
	case RepresentationRig:
		return 3
	case RepresentationFinal:
		return 4
	}
	return 0
}

type AssetFamily struct {
	UUID        uuid.UUID `json:"uuid" db:"uuid"`
	Name        string    `json:"name" db:"name"`
	AssetType   string    `json:"asset_type" db:"asset_type"`
	Description string    `json:"description" db:"description"`
	Extension   string    `json:"extension" db:"extension"`
	IsRetired   bool      `json:"is_retired" db:"is_retired"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	ModifiedAt  time.Time `json:"modified_at" db:"modified_at"`
}

// AssetVersion is one immutable published artifact. Only Tier, the flags
// and the status fields ever change after it is registered.
type AssetVersion struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	FamilyUUID     uuid.UUID      `json:"family_uuid" db:"family_uuid"`
	Variant        string         `json:"variant" db:"variant"`
	VersionNumber  int            `json:"version_number" db:"version_number"`
	VersionLabel   string         `json:"version_label" db:"version_label"`
	Tier           Tier           `json:"tier" db:"tier"`
	PayloadPath    string         `json:"payload_path" db:"payload_path"`
	ThumbnailPath  string         `json:"thumbnail_path" db:"thumbnail_path"`
	FileExt        string         `json:"file_ext" db:"file_ext"`
	SizeBytes      int64          `json:"size_bytes" db:"size_bytes"`
	Stats          Stats          `json:"stats" db:"stats"`
	Status         Status         `json:"status" db:"status"`
	Representation Representation `json:"representation" db:"representation"`
	IsLatest       bool           `json:"is_latest" db:"is_latest"`
	IsFavorite     bool           `json:"is_favorite" db:"is_favorite"`
	IsRetired      bool           `json:"is_retired" db:"is_retired"`
	RetiredAt      *time.Time     `json:"retired_at,omitempty" db:"retired_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	ModifiedAt     time.Time      `json:"modified_at" db:"modified_at"`
}

// VersionRef carries the denormalized identity the path resolver needs.
type VersionRef struct {
	FamilyName string
	AssetType  string
	Variant    string
	Number     int
	Extension  string
}

func (v *AssetVersion) Ref(f *AssetFamily) VersionRef {
	return VersionRef{
		FamilyName: f.Name,
		AssetType:  f.AssetType,
		Variant:    v.Variant,
		Number:     v.VersionNumber,
		Extension:  v.FileExt,
	}
}

// PublishRequest is what the export path hands to the version manager.
type PublishRequest struct {
	FamilyName     string
	AssetType      string
	Variant        string
	Extension      string
	Description    string
	Payload        io.Reader
	Thumbnail      io.Reader
	Status         Status
	Representation Representation
	Stats          Stats
	Actor          string
}

// Scope addresses a whole family or, when Variant is set, one variant of it.
type Scope struct {
	FamilyUUID uuid.UUID `json:"family_uuid"`
	Variant    string    `json:"variant,omitempty"`
}

func (s Scope) String() string {
	if s.Variant == "" {
		return fmt.Sprintf("family %s", s.FamilyUUID)
	}
	return fmt.Sprintf("family %s variant %s", s.FamilyUUID, s.Variant)
}

// FamilyFilter narrows ListFamilies.
type FamilyFilter struct {
	AssetType      string
	FolderID       *int64
	Tag            string
	IncludeRetired bool
}
