// Package layout maps asset identity to canonical locations in the storage
// tiers. It performs no I/O.
package layout

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"assetlibrary/internal/domain"
)

const (
	LibraryDir = "library"
	ArchiveDir = "_archive"
	RetiredDir = "_retired"

	CurrentSuffix      = ".current"
	CurrentThumbnail   = "thumbnail.current.png"
	ArchiveMetaFile    = "meta.json"
	thumbnailExtension = "png"
)

var typeFolders = map[string]string{
	"mesh":          "meshes",
	"material":      "materials",
	"rig":           "rigs",
	"light":         "lights",
	"camera":        "cameras",
	"collection":    "collections",
	"grease_pencil": "grease_pencils",
	"curve":         "curves",
	"scene":         "scenes",
	"texture":       "textures",
	"geonode":       "geonodes",
	"shader":        "shaders",
	"hdri":          "hdris",
	"preset":        "presets",
}

// TypeFolder returns the folder for an asset type, "other" when unknown.
func TypeFolder(assetType string) string {
	if f, ok := typeFolders[strings.ToLower(assetType)]; ok {
		return f
	}
	return "other"
}

var (
	invalidChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	underscores  = regexp.MustCompile(`_+`)
	labelPattern = regexp.MustCompile(`^v(\d{3,})$`)
)

// Sanitize makes a family or variant name safe for use as a path segment.
func Sanitize(name string) string {
	safe := invalidChars.ReplaceAllString(name, "_")
	safe = strings.Trim(safe, " .")
	safe = underscores.ReplaceAllString(safe, "_")
	if safe == "" {
		return "unnamed"
	}
	return safe
}

// VersionLabel formats n as v001.
func VersionLabel(n int) string {
	return fmt.Sprintf("v%03d", n)
}

func ParseVersionLabel(label string) (int, error) {
	m := labelPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, fmt.Errorf("invalid version label %q", label)
	}
	return strconv.Atoi(m[1])
}

// Resolver produces paths relative to the library root, always with forward
// slashes, and converts them to absolute OS paths.
type Resolver struct {
	root string
}

func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

func (r *Resolver) Root() string {
	return r.root
}

// Abs converts a stored relative path into an OS path under the root.
func (r *Resolver) Abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Dir is the directory holding a version's files in the given tier.
func (r *Resolver) Dir(ref domain.VersionRef, tier domain.Tier) string {
	family := Sanitize(ref.FamilyName)
	variant := Sanitize(ref.Variant)
	typeFolder := TypeFolder(ref.AssetType)

	switch tier {
	case domain.TierArchive:
		return path.Join(ArchiveDir, typeFolder, family, variant, VersionLabel(ref.Number))
	case domain.TierRetired:
		return path.Join(RetiredDir, typeFolder, family, variant)
	default:
		return path.Join(LibraryDir, typeFolder, family, variant)
	}
}

// VariantDir is the active-tier folder of a family/variant; it also holds the proxy.
func (r *Resolver) VariantDir(familyName, assetType, variant string) string {
	return path.Join(LibraryDir, TypeFolder(assetType), Sanitize(familyName), Sanitize(variant))
}

func (r *Resolver) PayloadName(ref domain.VersionRef) string {
	return fmt.Sprintf("%s.%s.%s", Sanitize(ref.FamilyName), VersionLabel(ref.Number), extension(ref.Extension))
}

func (r *Resolver) ThumbnailName(ref domain.VersionRef) string {
	return fmt.Sprintf("%s.%s.%s", Sanitize(ref.FamilyName), VersionLabel(ref.Number), thumbnailExtension)
}

// Payload resolves the payload file of a version in the given tier.
func (r *Resolver) Payload(ref domain.VersionRef, tier domain.Tier) string {
	return path.Join(r.Dir(ref, tier), r.PayloadName(ref))
}

func (r *Resolver) Thumbnail(ref domain.VersionRef, tier domain.Tier) string {
	return path.Join(r.Dir(ref, tier), r.ThumbnailName(ref))
}

// ArchiveMeta is the metadata snapshot stored next to an archived version.
func (r *Resolver) ArchiveMeta(ref domain.VersionRef) string {
	return path.Join(r.Dir(ref, domain.TierArchive), ArchiveMetaFile)
}

// Proxy resolves {family}.current.{ext} in the active variant folder.
func (r *Resolver) Proxy(familyName, assetType, variant, ext string) string {
	name := fmt.Sprintf("%s%s.%s", Sanitize(familyName), CurrentSuffix, extension(ext))
	return path.Join(r.VariantDir(familyName, assetType, variant), name)
}

func (r *Resolver) ProxyThumbnail(familyName, assetType, variant string) string {
	return path.Join(r.VariantDir(familyName, assetType, variant), CurrentThumbnail)
}

func extension(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return domain.DefaultExtension
	}
	return ext
}
