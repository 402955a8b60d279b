package models

// Library is a discovery root contributed by an external media-library
// service. Exclude-glob matching and path-to-library resolution are out of
// scope here; this is just the id <-> path bookkeeping row that
// videos_for_crf_search and friends join against.
type Library struct {
	BaseModel

	Path string `gorm:"uniqueIndex;not null" json:"path"`
}
