package domain

// TierUsage is the storage consumed by one tier.
type TierUsage struct {
	Tier      Tier  `json:"tier" db:"tier"`
	Versions  int64 `json:"versions" db:"versions"`
	SizeBytes int64 `json:"size_bytes" db:"size_bytes"`
}

type UsageInfo struct {
	Tiers      []TierUsage `json:"tiers"`
	TotalBytes int64       `json:"total_bytes"`
}
